package session

import (
	"encoding/json"
	"fmt"
)

// VisualizationKind is the rendered form of a visualization.
type VisualizationKind string

const (
	VisualizationMermaid VisualizationKind = "mermaid"
	VisualizationTable   VisualizationKind = "table"
)

// VisualizationBody is either a Diagram or a Table.
type VisualizationBody interface {
	Kind() VisualizationKind
	Source() string
	isVisualizationBody()
}

// Diagram is mermaid source code.
type Diagram struct {
	Code      string
	ChartType string
}

func (Diagram) Kind() VisualizationKind { return VisualizationMermaid }
func (d Diagram) Source() string        { return d.Code }
func (Diagram) isVisualizationBody()    {}

// Table is a rendered markdown table.
type Table struct {
	Rows string
}

func (Table) Kind() VisualizationKind { return VisualizationTable }
func (t Table) Source() string        { return t.Rows }
func (Table) isVisualizationBody()    {}

// Visualization is a chart or table attached to a report after synthesis.
type Visualization struct {
	ID         string
	Body       VisualizationBody
	RawData    json.RawMessage
	Citations  map[string]string
	Caption    string
	Confidence float64
}

// Kind returns the body kind, table when unset.
func (v Visualization) Kind() VisualizationKind {
	if v.Body == nil {
		return VisualizationTable
	}
	return v.Body.Kind()
}

func (v Visualization) clone() Visualization {
	out := v
	out.RawData = append(json.RawMessage(nil), v.RawData...)
	if v.Citations != nil {
		out.Citations = make(map[string]string, len(v.Citations))
		for k, val := range v.Citations {
			out.Citations[k] = val
		}
	}
	return out
}

type visualizationJSON struct {
	ID         string            `json:"id"`
	Type       VisualizationKind `json:"type"`
	ChartType  string            `json:"chartType,omitempty"`
	RawData    json.RawMessage   `json:"rawData,omitempty"`
	Code       string            `json:"code"`
	Citations  map[string]string `json:"citations,omitempty"`
	Caption    string            `json:"caption"`
	Confidence float64           `json:"confidence"`
}

// MarshalJSON encodes the flat wire shape used by the API.
func (v Visualization) MarshalJSON() ([]byte, error) {
	out := visualizationJSON{
		ID:         v.ID,
		Type:       v.Kind(),
		RawData:    v.RawData,
		Citations:  v.Citations,
		Caption:    v.Caption,
		Confidence: v.Confidence,
	}
	switch b := v.Body.(type) {
	case Diagram:
		out.Code = b.Code
		out.ChartType = b.ChartType
	case Table:
		out.Code = b.Rows
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the flat wire shape.
func (v *Visualization) UnmarshalJSON(data []byte) error {
	var raw visualizationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Visualization{
		ID:         raw.ID,
		RawData:    raw.RawData,
		Citations:  raw.Citations,
		Caption:    raw.Caption,
		Confidence: raw.Confidence,
	}
	switch raw.Type {
	case VisualizationMermaid:
		out.Body = Diagram{Code: raw.Code, ChartType: raw.ChartType}
	case VisualizationTable:
		out.Body = Table{Rows: raw.Code}
	default:
		return fmt.Errorf("unknown visualization type %q", raw.Type)
	}
	*v = out
	return nil
}
