package validate

// prohibitedTerms is the fixed deny-list applied to the free-text reason.
// Matching is case-insensitive on whole whitespace-delimited tokens.
var prohibitedTerms = map[string]struct{}{
	"wea":          {},
	"weon":         {},
	"culiao":       {},
	"ctm":          {},
	"chucha":       {},
	"aweonao":      {},
	"aweona":       {},
	"conchetumare": {},
	"maricon":      {},
	"maricona":     {},
	"maricones":    {},
	"mariconas":    {},
	"mariconcito":  {},
	"mariconcita":  {},
	"mariconzuelo": {},
	"mariconzuela": {},
	"mariconazo":   {},
	"mariconaza":   {},
	"mariconada":   {},
	"mariconeria":  {},
	"gilipollas":   {},
}
