package selector

import (
	"encoding/json"
	"fmt"
	"os"
)

// tableDoc is the JSON shape of a strategy table override file. Absent fields
// keep the base table's strategies, so operators only list what changed.
type tableDoc struct {
	Container     []Strategy `json:"container"`
	Link          []Strategy `json:"link"`
	Name          []Strategy `json:"name"`
	Headline      []Strategy `json:"headline"`
	Location      []Strategy `json:"location"`
	PageIndicator []Strategy `json:"page_indicator"`
	NextControl   []Strategy `json:"next_control"`
}

// Parse reads a strategy table from JSON.
func Parse(data []byte) (Table, error) {
	var doc tableDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Table{}, fmt.Errorf("parse selector table: %w", err)
	}
	return Table{
		Container:     doc.Container,
		Link:          doc.Link,
		Name:          doc.Name,
		Headline:      doc.Headline,
		Location:      doc.Location,
		PageIndicator: doc.PageIndicator,
		NextControl:   doc.NextControl,
	}, nil
}

// LoadFile reads a strategy table override file.
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read selector table: %w", err)
	}
	return Parse(data)
}

// Merge overlays t on base: any field with at least one strategy in t replaces
// the base list wholesale, everything else stays. Replacing a whole list keeps
// the fallback ordering explicit; appending would hide which rule won.
func (t Table) Merge(base Table) Table {
	out := base
	if len(t.Container) > 0 {
		out.Container = t.Container
	}
	if len(t.Link) > 0 {
		out.Link = t.Link
	}
	if len(t.Name) > 0 {
		out.Name = t.Name
	}
	if len(t.Headline) > 0 {
		out.Headline = t.Headline
	}
	if len(t.Location) > 0 {
		out.Location = t.Location
	}
	if len(t.PageIndicator) > 0 {
		out.PageIndicator = t.PageIndicator
	}
	if len(t.NextControl) > 0 {
		out.NextControl = t.NextControl
	}
	return out
}
