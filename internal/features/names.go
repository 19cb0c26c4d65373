package features

// ID identifies a feature the extractors know how to compute. Schema names
// are resolved to IDs once at load time so per-request work is array indexing.
type ID int

const (
	// Lexical (URL string only)
	URLLength ID = iota
	NoOfAmpersandInURL
	NoOfEqualsInURL
	NoOfQMarkInURL
	NoOfDegitsInURL
	NoOfLettersInURL
	NoOfOtherSpecialCharsInURL
	IsDomainIP
	TLDLength
	DomainLength
	NoOfSubDomain
	LetterRatioInURL
	DegitRatioInURL
	SpacialCharRatioInURL
	IsHTTPS
	IsPunycodeDomain
	HasHomographDomain
	NoOfAtInURL
	NoOfHyphenInURL

	// Structural (fetched page)
	HasTitle
	DomainTitleMatchScore
	URLTitleMatchScore
	HasDescription
	HasFavicon
	IsResponsive
	Robots
	NoOfJS
	NoOfImage
	NoOfiFrame
	NoOfCSS
	LineOfCode
	LargestLineLength
	HasSubmitButton
	HasHiddenFields
	HasPasswordField
	HasExternalFormSubmit
	NoOfSelfRef
	NoOfExternalRef
	NoOfEmptyRef
	Pay
	Bank
	Crypto
	CharContinuationRate
	URLCharProb

	numFeatures
)

// Names match the column names of the training dataset.
var names = [numFeatures]string{
	URLLength:                  "URLLength",
	NoOfAmpersandInURL:         "NoOfAmpersandInURL",
	NoOfEqualsInURL:            "NoOfEqualsInURL",
	NoOfQMarkInURL:             "NoOfQMarkInURL",
	NoOfDegitsInURL:            "NoOfDegitsInURL",
	NoOfLettersInURL:           "NoOfLettersInURL",
	NoOfOtherSpecialCharsInURL: "NoOfOtherSpecialCharsInURL",
	IsDomainIP:                 "IsDomainIP",
	TLDLength:                  "TLDLength",
	DomainLength:               "DomainLength",
	NoOfSubDomain:              "NoOfSubDomain",
	LetterRatioInURL:           "LetterRatioInURL",
	DegitRatioInURL:            "DegitRatioInURL",
	SpacialCharRatioInURL:      "SpacialCharRatioInURL",
	IsHTTPS:                    "IsHTTPS",
	IsPunycodeDomain:           "IsPunycodeDomain",
	HasHomographDomain:         "HasHomographDomain",
	NoOfAtInURL:                "NoOfAtInURL",
	NoOfHyphenInURL:            "NoOfHyphenInURL",
	HasTitle:                   "HasTitle",
	DomainTitleMatchScore:      "DomainTitleMatchScore",
	URLTitleMatchScore:         "URLTitleMatchScore",
	HasDescription:             "HasDescription",
	HasFavicon:                 "HasFavicon",
	IsResponsive:               "IsResponsive",
	Robots:                     "Robots",
	NoOfJS:                     "NoOfJS",
	NoOfImage:                  "NoOfImage",
	NoOfiFrame:                 "NoOfiFrame",
	NoOfCSS:                    "NoOfCSS",
	LineOfCode:                 "LineOfCode",
	LargestLineLength:          "LargestLineLength",
	HasSubmitButton:            "HasSubmitButton",
	HasHiddenFields:            "HasHiddenFields",
	HasPasswordField:           "HasPasswordField",
	HasExternalFormSubmit:      "HasExternalFormSubmit",
	NoOfSelfRef:                "NoOfSelfRef",
	NoOfExternalRef:            "NoOfExternalRef",
	NoOfEmptyRef:               "NoOfEmptyRef",
	Pay:                        "Pay",
	Bank:                       "Bank",
	Crypto:                     "Crypto",
	CharContinuationRate:       "CharContinuationRate",
	URLCharProb:                "URLCharProb",
}

var byName = func() map[string]ID {
	m := make(map[string]ID, numFeatures)
	for id, name := range names {
		m[name] = ID(id)
	}
	return m
}()

func (id ID) String() string {
	if id < 0 || id >= numFeatures {
		return "unknown"
	}
	return names[id]
}

// Lookup resolves a schema column name to a known feature.
func Lookup(name string) (ID, bool) {
	id, ok := byName[name]
	return id, ok
}

// Partial holds the subset of features one extractor computed.
type Partial struct {
	vals [numFeatures]float64
	set  [numFeatures]bool
}

func (p *Partial) Set(id ID, v float64) {
	p.vals[id] = v
	p.set[id] = true
}

func (p *Partial) Get(id ID) (float64, bool) {
	if id < 0 || id >= numFeatures {
		return 0, false
	}
	return p.vals[id], p.set[id]
}

// Len reports how many features were populated.
func (p *Partial) Len() int {
	n := 0
	for _, ok := range p.set {
		if ok {
			n++
		}
	}
	return n
}

// Map is a debugging view keyed by feature name.
func (p *Partial) Map() map[string]float64 {
	m := make(map[string]float64)
	for id, ok := range p.set {
		if ok {
			m[names[id]] = p.vals[id]
		}
	}
	return m
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
