package controller

import (
	"fmt"

	"github.com/zjrosen/sheetbind/internal/host"
)

// ActivationType is what brought a controller to life.
type ActivationType int

const (
	// ActivatedWorkbook attaches the controller to the workbook.
	ActivatedWorkbook ActivationType = iota
	// ActivatedWorksheet attaches the controller to one worksheet; it is
	// destroyed when that worksheet is deactivated.
	ActivatedWorksheet
	// ActivatedBinding attaches the controller to a controller__* marker's
	// binding. It lives until the application closes.
	ActivatedBinding
)

func (t ActivationType) String() string {
	switch t {
	case ActivatedWorkbook:
		return "workbook"
	case ActivatedWorksheet:
		return "worksheet"
	case ActivatedBinding:
		return "binding"
	default:
		return "unknown"
	}
}

// Activation describes why and where a controller is created.
type Activation struct {
	Type      ActivationType
	Worksheet string
	// Marker and MarkerScope identify the controller__* item of a binding
	// activation.
	Marker      string
	MarkerScope host.Scope
}

// WorkbookActivation activates a controller on the workbook.
func WorkbookActivation() Activation {
	return Activation{Type: ActivatedWorkbook}
}

// WorksheetActivation activates a controller on the named worksheet.
func WorksheetActivation(name string) Activation {
	return Activation{Type: ActivatedWorksheet, Worksheet: name}
}

// BindingActivation activates a controller for a controller__* marker.
func BindingActivation(marker string, scope host.Scope) Activation {
	return Activation{Type: ActivatedBinding, Marker: marker, MarkerScope: scope}
}

// ActivationFromEvent maps a host activation event to an Activation.
func ActivationFromEvent(ev host.Event) (Activation, error) {
	switch ev.Type {
	case host.EventWorkbookActivated:
		return WorkbookActivation(), nil
	case host.EventWorksheetActivated:
		if ev.Worksheet == "" {
			return Activation{}, fmt.Errorf("worksheet activation without a worksheet")
		}
		return WorksheetActivation(ev.Worksheet), nil
	default:
		return Activation{}, fmt.Errorf("event %s does not activate controllers", ev.Type)
	}
}

// Scope returns the document scope the controller attaches to.
func (a Activation) Scope() host.Scope {
	switch a.Type {
	case ActivatedWorksheet:
		return host.Worksheet(a.Worksheet)
	case ActivatedBinding:
		return a.MarkerScope
	default:
		return host.Workbook()
	}
}

// Key identifies the attachment point; the application keeps at most one
// live controller per definition and key.
func (a Activation) Key() string {
	if a.Type == ActivatedBinding {
		return "binding:" + a.MarkerScope.Qualify(a.Marker)
	}
	return a.Scope().Key()
}
