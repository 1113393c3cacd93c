package order

// Localization is one entry of the fixed localization catalog. Choices
// arrive as ids (callback data), labels go into the order and the task.
type Localization struct {
	ID   string
	Name string
}

var Localizations = []Localization{
	{ID: "en", Name: "🇺🇸 EN (английский)"},
	{ID: "uk", Name: "🇬🇧 UK (британский английский)"},
	{ID: "ua", Name: "🇺🇦 UA (украинский)"},
	{ID: "ru", Name: "🇷🇺 RU (русский)"},
	{ID: "de", Name: "🇩🇪 DE (немецкий)"},
	{ID: "fr", Name: "🇫🇷 FR (французский)"},
	{ID: "es", Name: "🇪🇸 ES (испанский)"},
	{ID: "it", Name: "🇮🇹 IT (итальянский)"},
	{ID: "other", Name: "🌍 Другое"},
}

var Currencies = []string{"USD", "EUR", "UAH", "RUB", "USDT"}

// ItemCounts is the enumerated set of allowed item counts; arbitrary
// integers outside it are rejected.
var ItemCounts = []int{1, 2, 3, 4, 5, 6}

func LocalizationByID(id string) (Localization, bool) {
	for _, l := range Localizations {
		if l.ID == id {
			return l, true
		}
	}
	return Localization{}, false
}

func ValidCurrency(code string) bool {
	for _, c := range Currencies {
		if c == code {
			return true
		}
	}
	return false
}

func ValidItemCount(n int) bool {
	for _, c := range ItemCounts {
		if c == n {
			return true
		}
	}
	return false
}
