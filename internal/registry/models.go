package registry

// Substance is a chemical entity in the remote registry, identified by URI.
// Everything besides the URI is carried through into the dataset untouched.
type Substance struct {
	URI          string `json:"URI"`
	Name         string `json:"name,omitempty"`
	OwnerUUID    string `json:"ownerUUID,omitempty"`
	OwnerName    string `json:"ownerName,omitempty"`
	SubstanceTyp string `json:"substanceType,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
}

// BundleSubstances is the payload of GET {bundle}/substance.
type BundleSubstances struct {
	Substance []Substance `json:"substance"`
}

// BundleProperties is the payload of GET {bundle}/property. The feature map
// keys are property category codes; the values are descriptive metadata the
// conjoiner never inspects.
type BundleProperties struct {
	Feature map[string]interface{} `json:"feature"`
}

type Protocol struct {
	Topcategory string   `json:"topcategory,omitempty"`
	Category    Category `json:"category"`
	Guideline   []string `json:"guidance,omitempty"`
}

type Category struct {
	Code string `json:"code"`
}

type Study struct {
	Protocol Protocol `json:"protocol"`
	Effects  []Effect `json:"effects"`
}

// Studies is the payload of GET {substance}/study.
type Studies struct {
	Study []Study `json:"study"`
}

type Effect struct {
	Endpoint   string                 `json:"endpoint"`
	Result     Result                 `json:"result"`
	Conditions map[string]interface{} `json:"conditions,omitempty"`
}

// Result is a qualified measurement. Bounds may be one-sided, carry
// comparison qualifiers, or be replaced entirely by a text payload.
type Result struct {
	LoValue     *float64 `json:"loValue,omitempty"`
	LoQualifier string   `json:"loQualifier,omitempty"`
	UpValue     *float64 `json:"upValue,omitempty"`
	UpQualifier string   `json:"upQualifier,omitempty"`
	ErrorValue  *float64 `json:"errorValue,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	TextValue   string   `json:"textValue,omitempty"`
}

// Proteomics maps protein identifiers to qualified measurements. It arrives
// serialized inside the textValue of a PROTEOMICS_SECTION effect.
type Proteomics map[string]Result
