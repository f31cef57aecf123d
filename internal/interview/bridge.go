package interview

import (
	"context"
	"time"

	"github.com/tshla/previsit-platform/internal/appointments"
	"github.com/tshla/previsit-platform/internal/calls"
	"github.com/tshla/previsit-platform/internal/patients"
	"github.com/tshla/previsit-platform/pkg/logging"
)

type patientReader interface {
	GetByID(ctx context.Context, id string) (*patients.Patient, error)
}

type appointmentReader interface {
	GetByID(ctx context.Context, id string) (*appointments.Appointment, error)
}

const defaultAgentContext = "You are calling a patient ahead of an upcoming appointment to review medications, refills, recent labs and any new concerns."

// CallBridge adapts the interview client to the orchestrator's bridge
// contract. Visit context is enriched best-effort; an unreadable patient or
// appointment record never blocks the conversation from starting.
type CallBridge struct {
	client       *Client
	patients     patientReader
	appts        appointmentReader
	agentContext string
	loc          *time.Location
	logger       *logging.Logger
}

func NewCallBridge(client *Client, pats patientReader, appts appointmentReader, logger *logging.Logger) *CallBridge {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallBridge{
		client:       client,
		patients:     pats,
		appts:        appts,
		agentContext: defaultAgentContext,
		loc:          time.UTC,
		logger:       logger.Component("interview-bridge"),
	}
}

// WithAgentContext overrides the standing agent instructions.
func (b *CallBridge) WithAgentContext(ctx string) *CallBridge {
	if ctx != "" {
		b.agentContext = ctx
	}
	return b
}

// WithTimezone sets the clinic timezone used for spoken appointment times.
func (b *CallBridge) WithTimezone(loc *time.Location) *CallBridge {
	if loc != nil {
		b.loc = loc
	}
	return b
}

// Start connects the answered call to the interview agent.
func (b *CallBridge) Start(ctx context.Context, req calls.BridgeRequest) (string, error) {
	sr := StartRequest{
		ExternalCallID: req.ExternalCallID,
		AgentContext:   b.agentContext,
	}
	if b.patients != nil {
		if p, err := b.patients.GetByID(ctx, req.PatientID); err == nil {
			sr.PatientName = p.FullName
		} else {
			b.logger.Warn("patient lookup for bridge failed", "patient_id", req.PatientID, "error", err)
		}
	}
	if b.appts != nil {
		if a, err := b.appts.GetByID(ctx, req.AppointmentID); err == nil {
			local := a.StartsAt.In(b.loc)
			sr.AppointmentDate = local.Format("Monday, January 2")
			sr.AppointmentTime = local.Format("3:04 PM")
			sr.ProviderName = a.ProviderName
		} else {
			b.logger.Warn("appointment lookup for bridge failed", "appointment_id", req.AppointmentID, "error", err)
		}
	}
	return b.client.StartConversation(ctx, sr)
}

var _ calls.Bridge = (*CallBridge)(nil)
