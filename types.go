package seiri

// Classification is the public shape of a case classification, returned by
// external TextClassifier implementations. CaseType and Urgency are plain
// strings so consumers do not import internal packages; unknown values are
// treated as low-confidence and fall through to the rule-based path.
type Classification struct {
	CaseType      string   `json:"case_type"`
	Urgency       string   `json:"urgency"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	MissingFields []string `json:"missing_fields"`
}

// Feature is one named entry of the risk feature vector, in extraction order.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FeatureWeight explains one feature's contribution to a risk score.
// Direction is "increases" or "decreases".
type FeatureWeight struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	Direction  string  `json:"direction"`
}
