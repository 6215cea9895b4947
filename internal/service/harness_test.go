package service

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
	"github.com/noah-isme/sma-adp-assistant/internal/query"
	"github.com/noah-isme/sma-adp-assistant/internal/repository"
	"github.com/noah-isme/sma-adp-assistant/internal/testutil"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
)

// fakeIssuer records certificate requests instead of rendering PDFs.
type fakeIssuer struct {
	mu       sync.Mutex
	requests []CertificateRequest
	err      error
}

func (f *fakeIssuer) Issue(_ context.Context, req CertificateRequest) (*models.CertificateInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.CertificateInfo{
		StudentID:   req.Student.ID,
		StudentName: req.Student.Nombre,
		Kind:        req.Kind,
		Preview:     req.Preview,
		Path:        "previas/test.pdf",
		Token:       "token",
		DownloadURL: "/certificates/token",
		IssuedAt:    testutil.Today,
	}, nil
}

func (f *fakeIssuer) last() CertificateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeIssuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testPipeline struct {
	db        *sqlx.DB
	compiler  *query.Compiler
	validator *ActionValidator
	executor  *ExecutorService
	issuer    *fakeIssuer
	students  *repository.StudentRepository
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	db := testutil.NewSchoolDB(t)
	compiler := query.NewCompiler(query.NewFieldMapper(models.SchoolSchema()), clock.Fixed{T: testutil.Today}, query.Options{DefaultLimit: 100, MaxLimit: 500})
	validator := NewActionValidator(compiler, nil)
	issuer := &fakeIssuer{}
	students := repository.NewStudentRepository(db)
	executor := NewExecutorService(validator, compiler, repository.NewQueryRepository(db), students, issuer, nil,
		ExecutorOptions{Guard: query.Guard{DefaultLimit: 100, MaxLimit: 500}}, nil)
	return &testPipeline{db: db, compiler: compiler, validator: validator, executor: executor, issuer: issuer, students: students}
}

func crit(table, field string, op models.Operator, value interface{}) models.Criterion {
	return models.Criterion{Table: table, Field: field, Operator: op, Value: value}
}

func boolPtr(b bool) *bool { return &b }
