package models

// AudienceFilter is the immutable audience criteria attached to a
// campaign at draft time. It is resolved against recipient storage at
// dispatch time, not cached, so recipient changes between draft and
// launch are reflected at launch.
type AudienceFilter struct {
	Tags         []string `json:"tags,omitempty"`
	MinSpend     float64  `json:"min_spend,omitempty"`
	CustomerType string   `json:"customer_type,omitempty"`
}

// IsEmpty reports whether the filter matches everyone.
func (f AudienceFilter) IsEmpty() bool {
	return len(f.Tags) == 0 && f.MinSpend == 0 && f.CustomerType == ""
}
