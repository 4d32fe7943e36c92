// Package lookalike содержит тип, имя которого совпадает с типом из тестов
// пакета resolve. Нужен для проверки того, что кеш различает типы по
// идентичности, а не по имени.
package lookalike

// Receiver объявляет тот же метод, что и одноименный тестовый тип.
type Receiver struct{}

// Handler ничего не делает.
func (*Receiver) Handler() string { return "lookalike" }
