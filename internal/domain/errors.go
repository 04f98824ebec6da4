package domain

import "errors"

// ErrBookNotFound возвращается, если книга не существует.
var ErrBookNotFound = errors.New("книга не найдена")

// ErrUserNotFound возвращается, если пользователь не существует.
var ErrUserNotFound = errors.New("пользователь не найден")

// ErrOpenSessionNotFound возвращается, если открытой сессии по книге нет.
var ErrOpenSessionNotFound = errors.New("открытая сессия не найдена")
