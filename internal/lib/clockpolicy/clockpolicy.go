// Package clockpolicy переводит номинальную длительность (в "днях") в реальный
// интервал времени. Единица измерения выбирается один раз из конфига: в боевом
// окружении номинал интерпретируется как календарные дни, в тестовых стендах то же
// число может означать минуты или секунды. Остальной код никогда не ветвится по
// флагу напрямую — он получает готовую Policy.
package clockpolicy

import "time"

// Unit единица интерпретации номинальной длительности.
type Unit string

const (
	// UnitDays — календарные дни, боевой режим.
	UnitDays Unit = "days"
	// UnitMinutes — минуты, сжатие времени для тестовых стендов.
	UnitMinutes Unit = "minutes"
	// UnitSeconds — секунды, максимальное сжатие.
	UnitSeconds Unit = "seconds"
)

// Policy вычисляет границы окон доступа по номинальной длительности.
type Policy struct {
	unit Unit
}

// New создаёт Policy по строке из конфига.
// Нераспознанное значение трактуется как days.
func New(unit string) *Policy {
	switch Unit(unit) {
	case UnitMinutes:
		return &Policy{unit: UnitMinutes}
	case UnitSeconds:
		return &Policy{unit: UnitSeconds}
	default:
		return &Policy{unit: UnitDays}
	}
}

// Unit возвращает активную единицу.
func (p *Policy) Unit() Unit {
	return p.unit
}

// ResolveWindow возвращает конец окна, начинающегося в start и длящегося
// nominalDuration номинальных единиц. Чистая функция от конфигурации и аргументов.
func (p *Policy) ResolveWindow(start time.Time, nominalDuration int) time.Time {
	switch p.unit {
	case UnitMinutes:
		return start.Add(time.Duration(nominalDuration) * time.Minute)
	case UnitSeconds:
		return start.Add(time.Duration(nominalDuration) * time.Second)
	default:
		return start.AddDate(0, 0, nominalDuration)
	}
}
