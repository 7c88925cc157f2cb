package catalog

// Enrichment is a partial update produced by an enrichment provider. Slices
// are appended to the stored product; scalar fields overwrite only when set.
type Enrichment struct {
	Images     []string  `json:"images,omitempty"`
	Comments   []Comment `json:"comments,omitempty"`
	Rating     *float64  `json:"rating,omitempty"`
	NumRatings *int      `json:"numRatings,omitempty"`
	Source     *Source   `json:"source,omitempty"`
	Website    string    `json:"website,omitempty"`
	Phone      string    `json:"phone,omitempty"`
}

// Empty reports whether the enrichment carries no data.
func (e *Enrichment) Empty() bool {
	if e == nil {
		return true
	}
	return len(e.Images) == 0 && len(e.Comments) == 0 && e.Rating == nil &&
		e.NumRatings == nil && e.Source == nil && e.Website == "" && e.Phone == ""
}
