package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AnTengye/casedesk/lifecycle"
	"github.com/AnTengye/casedesk/model"
	"github.com/AnTengye/casedesk/pkg/logger"
)

// Slices of the client detail that are fetched independently
const (
	SliceTodos     = "todos"
	SliceDocuments = "documents"
	SliceCharges   = "charges"
	SliceEnvelope  = "envelope"
	SliceStrategy  = "strategy"
)

// ClientDetail is the case view of one client
type ClientDetail struct {
	ClientID  string                  `json:"client_id"`
	Agreement *model.Agreement        `json:"agreement"`
	Metadata  model.AgreementMetadata `json:"metadata"`
	Todos     []*model.Todo           `json:"todos"`
	Documents []*model.Document       `json:"documents"`
	Charges   []*model.Charge         `json:"charges"`
	Envelope  *model.Envelope         `json:"envelope,omitempty"`
	Strategy  *model.StrategyDocument `json:"strategy,omitempty"`
	Inputs    lifecycle.Inputs        `json:"inputs"`
	Status    lifecycle.Result        `json:"status"`
	Errors    map[string]string       `json:"errors,omitempty"`
}

// ClientStatus is one row of the client overview
type ClientStatus struct {
	ClientID        string                `json:"client_id"`
	AgreementID     string                `json:"agreement_id"`
	Title           string                `json:"title"`
	AgreementStatus model.AgreementStatus `json:"agreement_status"`
	StatusKey       lifecycle.StatusKey   `json:"status_key"`
	Progress        lifecycle.Progress    `json:"progress"`
}

// ClientDetailService assembles client views from the repository
type ClientDetailService struct {
	repo Repository
}

func NewClientDetailService(repo Repository) *ClientDetailService {
	return &ClientDetailService{repo: repo}
}

func visibleFilter(p model.Principal) (AgreementFilter, error) {
	switch p.Role {
	case model.RoleClient:
		return AgreementFilter{ClientID: p.UserID}, nil
	case model.RoleStrategist:
		return AgreementFilter{StrategistID: p.UserID}, nil
	case model.RoleCompliance:
		return AgreementFilter{}, nil
	default:
		return AgreementFilter{}, fmt.Errorf("role %q: %w", p.Role, ErrForbidden)
	}
}

// latest picks the newest agreement that is not cancelled, or the newest
// one when all are cancelled. agreements are ordered newest first.
func latest(agreements []*model.Agreement) *model.Agreement {
	for _, a := range agreements {
		if a.Status != model.AgreementCancelled {
			return a
		}
	}
	if len(agreements) > 0 {
		return agreements[0]
	}
	return nil
}

// Load builds the detail view of the client's current agreement
func (s *ClientDetailService) Load(ctx context.Context, p model.Principal, clientID string) (*ClientDetail, error) {
	filter, err := visibleFilter(p)
	if err != nil {
		return nil, err
	}
	if filter.ClientID != "" && filter.ClientID != clientID {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}
	filter.ClientID = clientID

	agreements, err := s.repo.ListAgreements(ctx, filter)
	if err != nil {
		return nil, err
	}
	a := latest(agreements)
	if a == nil {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}
	return s.LoadAgreement(ctx, a), nil
}

// LoadAgreement fetches every slice of an agreement concurrently. A failed
// slice is reported in Errors and left empty; the others still load.
func (s *ClientDetailService) LoadAgreement(ctx context.Context, a *model.Agreement) *ClientDetail {
	// the view shows the description without any legacy blob
	shown := *a
	shown.Description = lifecycle.StripLegacyMetadata(a.Description)

	detail := &ClientDetail{
		ClientID:  a.ClientID,
		Agreement: &shown,
		Metadata:  lifecycle.EffectiveMetadata(a),
	}

	var (
		mu   sync.Mutex
		errs = make(map[string]string)
	)
	record := func(slice string, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs[slice] = err.Error()
		logger.Warn(ctx, "client detail slice failed", "agreement_id", a.ID, "slice", slice, "error", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		todos, err := s.repo.ListTodos(ctx, a.ID)
		if err != nil {
			record(SliceTodos, err)
			return nil
		}
		detail.Todos = todos
		return nil
	})
	g.Go(func() error {
		docs, err := s.repo.ListDocuments(ctx, a.ID)
		if err != nil {
			record(SliceDocuments, err)
			return nil
		}
		detail.Documents = docs
		return nil
	})
	g.Go(func() error {
		charges, err := s.repo.ListCharges(ctx, a.ID)
		if err != nil {
			record(SliceCharges, err)
			return nil
		}
		detail.Charges = charges
		return nil
	})
	if id := detail.Metadata.EnvelopeID; id != "" {
		g.Go(func() error {
			envelope, err := s.repo.GetEnvelope(ctx, id)
			if err != nil {
				record(SliceEnvelope, err)
				return nil
			}
			detail.Envelope = envelope
			return nil
		})
	}
	if id := detail.Metadata.StrategyDocumentID; id != "" {
		g.Go(func() error {
			strategy, err := s.repo.GetStrategyDocument(ctx, id)
			if err != nil {
				record(SliceStrategy, err)
				return nil
			}
			detail.Strategy = strategy
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		detail.Errors = errs
	}
	detail.Inputs = BuildInputs(a, detail.Todos, detail.Documents, detail.Charges, detail.Envelope, detail.Strategy)
	detail.Status = lifecycle.Resolve(detail.Inputs)
	return detail
}

// BuildInputs counts the records of an agreement into resolver inputs.
// Each upload todo counts once, judged by the document it points to or
// else its newest document.
func BuildInputs(a *model.Agreement, todos []*model.Todo, docs []*model.Document, charges []*model.Charge, envelope *model.Envelope, strategy *model.StrategyDocument) lifecycle.Inputs {
	in := lifecycle.Inputs{AgreementStatus: a.Status}

	byID := make(map[string]*model.Document, len(docs))
	newest := make(map[string]*model.Document)
	for _, d := range docs {
		byID[d.ID] = d
		if d.TodoID == "" {
			continue
		}
		if cur, ok := newest[d.TodoID]; !ok || d.CreatedAt.After(cur.CreatedAt) {
			newest[d.TodoID] = d
		}
	}

	for _, t := range todos {
		if t.Kind != model.TodoUploadDocument {
			continue
		}
		in.TotalDocTodos++
		d, ok := byID[t.DocumentID]
		if !ok {
			d, ok = newest[t.ID]
		}
		if !ok || d.AcceptanceStatus == model.DocumentRejectedByStrategist {
			continue
		}
		in.UploadedDocCount++
		if d.AcceptanceStatus == model.DocumentAcceptedByStrategist {
			in.AcceptedDocCount++
		}
	}

	in.ChargeRequested = len(charges) > 0
	for _, c := range charges {
		if c.Status == model.ChargePaid {
			in.PaymentComplete = true
			break
		}
	}

	if envelope != nil && envelope.Status == model.EnvelopeCompleted {
		in.SignatureComplete = true
	}
	if strategy != nil {
		review := strategy.ReviewStatus
		in.StrategyReview = &review
	}
	return in
}

// ListStatuses resolves the current agreement of every client visible to
// the caller
func (s *ClientDetailService) ListStatuses(ctx context.Context, p model.Principal) ([]ClientStatus, error) {
	filter, err := visibleFilter(p)
	if err != nil {
		return nil, err
	}
	agreements, err := s.repo.ListAgreements(ctx, filter)
	if err != nil {
		return nil, err
	}

	byClient := make(map[string][]*model.Agreement)
	var order []string
	for _, a := range agreements {
		if _, ok := byClient[a.ClientID]; !ok {
			order = append(order, a.ClientID)
		}
		byClient[a.ClientID] = append(byClient[a.ClientID], a)
	}

	result := make([]ClientStatus, 0, len(order))
	for _, clientID := range order {
		a := latest(byClient[clientID])
		detail := s.LoadAgreement(ctx, a)
		result = append(result, ClientStatus{
			ClientID:        clientID,
			AgreementID:     a.ID,
			Title:           a.Title,
			AgreementStatus: a.Status,
			StatusKey:       detail.Status.StatusKey,
			Progress:        detail.Status.Progress,
		})
	}
	return result, nil
}
