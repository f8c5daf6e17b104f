package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnTengye/casedesk/lifecycle"
	"github.com/AnTengye/casedesk/model"
)

// failingRepository breaks selected reads of an otherwise working repository
type failingRepository struct {
	Repository
	documents    bool
	envelope     bool
	saveDocument bool
	saveStrategy bool
}

var errBackend = errors.New("backend unavailable")

func (r *failingRepository) ListDocuments(ctx context.Context, agreementID string) ([]*model.Document, error) {
	if r.documents {
		return nil, errBackend
	}
	return r.Repository.ListDocuments(ctx, agreementID)
}

func (r *failingRepository) SaveDocument(ctx context.Context, doc *model.Document) error {
	if r.saveDocument {
		return errBackend
	}
	return r.Repository.SaveDocument(ctx, doc)
}

func (r *failingRepository) SaveStrategyDocument(ctx context.Context, doc *model.StrategyDocument) error {
	if r.saveStrategy {
		return errBackend
	}
	return r.Repository.SaveStrategyDocument(ctx, doc)
}

func (r *failingRepository) GetEnvelope(ctx context.Context, id string) (*model.Envelope, error) {
	if r.envelope {
		return nil, errBackend
	}
	return r.Repository.GetEnvelope(ctx, id)
}

func TestClientDetailLoadNotFound(t *testing.T) {
	svc := NewClientDetailService(NewMemoryStore(0))

	_, err := svc.Load(context.Background(), strategist, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Load(context.Background(), model.Principal{UserID: "x", Role: "guest"}, "c1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestClientDetailHidesOtherClients(t *testing.T) {
	f := newWorkflowFixture(t)
	f.create(t)

	_, err := f.details.Load(context.Background(), model.Principal{UserID: "c2", Role: model.RoleClient}, client.UserID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.details.Load(context.Background(), model.Principal{UserID: "s2", Role: model.RoleStrategist}, client.UserID)
	assert.ErrorIs(t, err, ErrNotFound)

	detail, err := f.details.Load(context.Background(), client, client.UserID)
	require.NoError(t, err)
	assert.Equal(t, client.UserID, detail.ClientID)
}

func TestClientDetailPrefersOpenAgreement(t *testing.T) {
	repo := NewMemoryStore(0)
	ctx := context.Background()
	base := time.Now()

	repo.SaveAgreement(ctx, &model.Agreement{ID: "old", ClientID: "c1", StrategistID: "s1", Status: model.AgreementPendingPayment, CreatedAt: base})
	repo.SaveAgreement(ctx, &model.Agreement{ID: "new", ClientID: "c1", StrategistID: "s1", Status: model.AgreementCancelled, CreatedAt: base.Add(time.Minute)})

	detail, err := NewClientDetailService(repo).Load(ctx, strategist, "c1")
	require.NoError(t, err)
	assert.Equal(t, "old", detail.Agreement.ID)
	assert.Equal(t, lifecycle.StatusAwaitingPayment, detail.Status.StatusKey)
}

func TestClientDetailPartialFailure(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	a := f.paid(t)
	_, err := f.wf.RequestDocuments(ctx, strategist, a.ID, []DocumentRequest{{Title: "ID"}})
	require.NoError(t, err)

	repo := &failingRepository{Repository: f.repo, documents: true, envelope: true}
	detail, err := NewClientDetailService(repo).Load(ctx, strategist, client.UserID)
	require.NoError(t, err)

	assert.Contains(t, detail.Errors, SliceDocuments)
	assert.Contains(t, detail.Errors, SliceEnvelope)
	assert.NotContains(t, detail.Errors, SliceTodos)
	assert.NotContains(t, detail.Errors, SliceCharges)
	assert.Nil(t, detail.Documents)
	assert.Nil(t, detail.Envelope)
	assert.Len(t, detail.Todos, 3)
	assert.Len(t, detail.Charges, 1)

	// the agreement status alone still proves signature and payment
	assert.Equal(t, lifecycle.StatusAwaitingDocuments, detail.Status.StatusKey)
}

func TestBuildInputs(t *testing.T) {
	a := &model.Agreement{ID: "a1", Status: model.AgreementPendingSignature}
	base := time.Now()
	todos := []*model.Todo{
		{ID: "t-sign", Kind: model.TodoSign},
		{ID: "t1", Kind: model.TodoUploadDocument, DocumentID: "d1"},
		{ID: "t2", Kind: model.TodoUploadDocument, DocumentID: "d2"},
		{ID: "t3", Kind: model.TodoUploadDocument},
		{ID: "t4", Kind: model.TodoUploadDocument},
	}
	docs := []*model.Document{
		{ID: "d1", TodoID: "t1", AcceptanceStatus: model.DocumentAcceptedByStrategist, CreatedAt: base},
		{ID: "d2", TodoID: "t2", AcceptanceStatus: model.DocumentPending, CreatedAt: base},
		{ID: "d3", TodoID: "t3", AcceptanceStatus: model.DocumentRejectedByStrategist, CreatedAt: base},
		{ID: "d4-old", TodoID: "t4", AcceptanceStatus: model.DocumentRejectedByStrategist, CreatedAt: base},
		{ID: "d4-new", TodoID: "t4", AcceptanceStatus: model.DocumentPending, CreatedAt: base.Add(time.Minute)},
	}
	charges := []*model.Charge{
		{ID: "c1", Status: model.ChargeExpired},
		{ID: "c2", Status: model.ChargePaid},
	}
	envelope := &model.Envelope{Status: model.EnvelopeCompleted}
	strategy := &model.StrategyDocument{ReviewStatus: model.StrategyComplianceApproved}

	in := BuildInputs(a, todos, docs, charges, envelope, strategy)

	assert.Equal(t, model.AgreementPendingSignature, in.AgreementStatus)
	assert.Equal(t, 4, in.TotalDocTodos)
	assert.Equal(t, 3, in.UploadedDocCount)
	assert.Equal(t, 1, in.AcceptedDocCount)
	assert.True(t, in.PaymentComplete)
	assert.True(t, in.ChargeRequested)
	assert.True(t, in.SignatureComplete)
	require.NotNil(t, in.StrategyReview)
	assert.Equal(t, model.StrategyComplianceApproved, *in.StrategyReview)

	empty := BuildInputs(a, nil, nil, nil, nil, nil)
	assert.Zero(t, empty.TotalDocTodos)
	assert.False(t, empty.PaymentComplete)
	assert.False(t, empty.ChargeRequested)
	assert.False(t, empty.SignatureComplete)
	assert.Nil(t, empty.StrategyReview)
}

func TestListStatuses(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	f.paid(t)

	_, err := f.wf.CreateAgreement(ctx, strategist, CreateAgreementInput{ClientID: "c2", Title: "Other"})
	require.NoError(t, err)

	statuses, err := f.details.ListStatuses(ctx, strategist)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byClient := make(map[string]ClientStatus)
	for _, s := range statuses {
		byClient[s.ClientID] = s
	}
	assert.Equal(t, lifecycle.StatusReadyForStrategy, byClient["c1"].StatusKey)
	assert.Equal(t, lifecycle.StatusAwaitingAgreement, byClient["c2"].StatusKey)

	mine, err := f.details.ListStatuses(ctx, client)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "c1", mine[0].ClientID)
}
