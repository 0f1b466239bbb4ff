package domain

import (
	"strings"
)

// Format is a machine embroidery file format a deliverable can be produced in.
type Format struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var supportedFormats = []Format{
	{Code: "dst", Name: "Tajima"},
	{Code: "dsb", Name: "Barudan"},
	{Code: "dsz", Name: "ZSK"},
	{Code: "exp", Name: "Melco"},
	{Code: "tbf", Name: "Tajima TBF"},
	{Code: "fdr", Name: "Barudan FDR"},
	{Code: "stx", Name: "Data Stitch"},
	{Code: "pes", Name: "Brother"},
	{Code: "pec", Name: "Brother PEC"},
	{Code: "jef", Name: "Janome"},
	{Code: "sew", Name: "Janome SEW"},
	{Code: "hus", Name: "Husqvarna"},
	{Code: "vip", Name: "Pfaff VIP"},
	{Code: "vp3", Name: "Pfaff VP3"},
	{Code: "xxx", Name: "Singer"},
	{Code: "cmd", Name: "Compucon"},
	{Code: "tap", Name: "Happy"},
	{Code: "tim", Name: "Tajima TIM"},
	{Code: "emt", Name: "Inbro"},
	{Code: "10o", Name: "Toyota"},
	{Code: "ds9", Name: "ZSK DS9"},
}

var formatIndex = func() map[string]Format {
	index := make(map[string]Format, len(supportedFormats))
	for _, f := range supportedFormats {
		index[f.Code] = f
	}
	return index
}()

// SupportedFormats returns the catalog of deliverable formats.
func SupportedFormats() []Format {
	out := make([]Format, len(supportedFormats))
	copy(out, supportedFormats)
	return out
}

func IsSupportedFormat(code string) bool {
	_, ok := formatIndex[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// NormalizeFormats lowercases and deduplicates codes, keeping the first
// occurrence order and dropping unsupported ones.
func NormalizeFormats(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		code := strings.ToLower(strings.TrimSpace(raw))
		if _, ok := formatIndex[code]; !ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
