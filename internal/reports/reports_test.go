package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/ledger"
	"fairfund/fairfund-backend/internal/reports/export"
	"fairfund/fairfund-backend/pkg/address"
)

var (
	adminAddr  = address.MustNormalize("0x00000000000000000000000000000000000000a1")
	donorAddr  = address.MustNormalize("0x1111111111111111111111111111111111111111")
	farmerAddr = address.MustNormalize("0x2222222222222222222222222222222222222222")
)

type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) error {
	data, _ := io.ReadAll(body)
	args := m.Called(ctx, bucket, key, contentType, data)
	return args.Error(0)
}

func (m *MockS3Client) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	return nil, args.Error(1)
}

func (m *MockS3Client) Delete(ctx context.Context, bucket, key string) error {
	return m.Called(ctx, bucket, key).Error(0)
}

func (m *MockS3Client) GetPresignedURL(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, expiration)
	return args.String(0), args.Error(1)
}

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// seededLedger has one claimed, one reclaimed and one open disbursement.
func seededLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	now := start
	l, err := ledger.New(context.Background(), ledger.Options{
		Admin: adminAddr,
		Clock: func() time.Time { return now },
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = l.RegisterDonor(ctx, donorAddr, "AidOrg", "Helping farmers")
	require.NoError(t, err)
	_, err = l.RegisterFarmer(ctx, farmerAddr, "Ravi", "Village A", "Organic")
	require.NoError(t, err)
	_, err = l.VerifyDonor(ctx, adminAddr, donorAddr)
	require.NoError(t, err)
	_, err = l.VerifyFarmer(ctx, adminAddr, farmerAddr)
	require.NoError(t, err)
	_, err = l.FundAccount(ctx, adminAddr, donorAddr, decimal.NewFromInt(1000))
	require.NoError(t, err)

	_, err = l.CreateDisbursement(ctx, donorAddr, farmerAddr, "Seeds", 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = l.ClaimFunds(ctx, farmerAddr, 1)
	require.NoError(t, err)

	_, err = l.CreateDisbursement(ctx, donorAddr, farmerAddr, "Tools", 1, decimal.NewFromInt(200))
	require.NoError(t, err)
	now = now.Add(2 * 24 * time.Hour)
	_, err = l.ReclaimExpiredFunds(ctx, donorAddr, 2)
	require.NoError(t, err)

	_, err = l.CreateDisbursement(ctx, donorAddr, farmerAddr, "Fertiliser", 5, decimal.NewFromInt(300))
	require.NoError(t, err)
	return l
}

func newTestService(t *testing.T, archive *Archive) *Service {
	s := NewService(seededLedger(t), archive, 2, "USD", zap.NewNop())
	s.now = func() time.Time { return start.Add(72 * time.Hour) }
	return s
}

func readCSV(t *testing.T, doc *Document) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(doc.Content)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestDisbursementReportCSV(t *testing.T) {
	s := newTestService(t, nil)

	doc, err := s.DisbursementReport(context.Background(), DisbursementReportFilter{}, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "disbursements-20240504T090000Z.csv", doc.Filename())
	assert.Equal(t, "text/csv", doc.ContentType())

	records := readCSV(t, doc)
	require.Len(t, records, 4)
	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, []string{"1", "claimed"}, []string{records[1][0], records[1][6]})
	assert.Equal(t, []string{"2", "reclaimed"}, []string{records[2][0], records[2][6]})
	assert.Equal(t, []string{"3", "open"}, []string{records[3][0], records[3][6]})
	assert.Equal(t, "1 USD", records[1][3])
	assert.Equal(t, "100", records[1][4])
	assert.Empty(t, records[3][9], "open disbursement has no settlement time")
}

func TestDisbursementReportFilters(t *testing.T) {
	s := newTestService(t, nil)

	doc, err := s.DisbursementReport(context.Background(), DisbursementReportFilter{Status: "open"}, export.FormatCSV)
	require.NoError(t, err)
	records := readCSV(t, doc)
	require.Len(t, records, 2)
	assert.Equal(t, "3", records[1][0])

	doc, err = s.DisbursementReport(context.Background(), DisbursementReportFilter{Farmer: strings.ToLower(farmerAddr)}, export.FormatCSV)
	require.NoError(t, err)
	assert.Len(t, readCSV(t, doc), 4)

	_, err = s.DisbursementReport(context.Background(), DisbursementReportFilter{Status: "pending"}, export.FormatCSV)
	assert.Error(t, err)
}

func TestDonorStatement(t *testing.T) {
	s := newTestService(t, nil)

	doc, err := s.DonorStatement(context.Background(), strings.ToLower(donorAddr), export.FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, "statement-"+donorAddr, doc.Name)
	assert.NotEmpty(t, doc.Content)

	doc, err = s.DonorStatement(context.Background(), donorAddr, export.FormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc.Content, []byte("%PDF")))

	_, err = s.DonorStatement(context.Background(), farmerAddr, export.FormatCSV)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestArchive(t *testing.T) {
	client := new(MockS3Client)
	s := newTestService(t, &Archive{Client: client, Bucket: "reports", Prefix: "exports", Expiry: 15 * time.Minute})

	doc, err := s.DisbursementReport(context.Background(), DisbursementReportFilter{}, export.FormatCSV)
	require.NoError(t, err)

	keyMatcher := mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "exports/2024/05/04/") && strings.HasSuffix(key, "/"+doc.Filename())
	})
	client.On("Upload", mock.Anything, "reports", keyMatcher, "text/csv", doc.Content).Return(nil).Once()
	client.On("GetPresignedURL", mock.Anything, "reports", keyMatcher, 15*time.Minute).Return("https://example.test/signed", nil).Once()

	result, err := s.Archive(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/signed", result.URL)
	assert.Equal(t, len(doc.Content), result.Size)
	assert.Equal(t, start.Add(72*time.Hour+15*time.Minute), result.ExpiresAt)
	client.AssertExpectations(t)
}

func TestArchiveUploadFailure(t *testing.T) {
	client := new(MockS3Client)
	s := newTestService(t, &Archive{Client: client, Bucket: "reports", Expiry: time.Minute})
	client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("access denied"))

	doc, err := s.DisbursementReport(context.Background(), DisbursementReportFilter{}, export.FormatCSV)
	require.NoError(t, err)
	_, err = s.Archive(context.Background(), doc)
	assert.ErrorContains(t, err, "access denied")
	client.AssertNotCalled(t, "GetPresignedURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestArchiveDisabled(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.Archive(context.Background(), &Document{Format: export.FormatCSV})
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func newRouter(s *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(s, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestHandlerDownload(t *testing.T) {
	router := newRouter(newTestService(t, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/disbursements?status=claimed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "disbursements-20240504T090000Z.csv")
	assert.Equal(t, 2, strings.Count(w.Body.String(), "\n"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/donors/"+donorAddr+"/statement?format=pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}

func TestHandlerErrors(t *testing.T) {
	router := newRouter(newTestService(t, nil))

	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/api/v1/reports/disbursements?format=docx", http.StatusBadRequest, "invalid_format"},
		{"/api/v1/reports/disbursements?status=pending", http.StatusBadRequest, "invalid_filter"},
		{"/api/v1/reports/donors/0x9999999999999999999999999999999999999999/statement", http.StatusNotFound, "not_found"},
		{"/api/v1/reports/donors/nope/statement", http.StatusBadRequest, "invalid_address"},
		{"/api/v1/reports/disbursements?archive=true", http.StatusServiceUnavailable, "archive_disabled"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.status, w.Code, tc.path)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), tc.path)
		assert.Equal(t, tc.code, body["code"], tc.path)
	}
}

func TestHandlerArchive(t *testing.T) {
	client := new(MockS3Client)
	client.On("Upload", mock.Anything, "reports", mock.Anything, "application/pdf", mock.Anything).Return(nil)
	client.On("GetPresignedURL", mock.Anything, "reports", mock.Anything, time.Hour).Return("https://example.test/r.pdf", nil)
	router := newRouter(newTestService(t, &Archive{Client: client, Bucket: "reports", Expiry: time.Hour}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/disbursements?format=pdf&archive=true", nil))
	require.Equal(t, http.StatusCreated, w.Code)

	var result ArchiveResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "https://example.test/r.pdf", result.URL)
	assert.Equal(t, "pdf", result.Format)
}
