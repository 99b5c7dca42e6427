package examclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agpaii-digital/exam-portal/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tok-123"}, zerolog.Nop())
}

func TestFetchAttempt_SortsAndAcceptsStringIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/cbt/latihan/A1", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"success": true,
			"durasi": 10,
			"paket_id": 9,
			"soal": [
				{"id": "5", "pertanyaan": "<p>lima</p>", "opsi": {"A": "x", "B": ""}},
				{"id": 1, "pertanyaan": "<p>satu</p>", "opsi": {"A": "y"}},
				{"id": 3, "pertanyaan": "<p>tiga</p>", "opsi": {}}
			]
		}`))
	})

	paper, err := c.FetchAttempt(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), paper.DurationSeconds)
	assert.Equal(t, "9", paper.PackageID)
	require.Len(t, paper.Questions, 3)
	assert.Equal(t, []model.QuestionID{1, 3, 5}, []model.QuestionID{
		paper.Questions[0].ID, paper.Questions[1].ID, paper.Questions[2].ID,
	})
	assert.Equal(t, "<p>satu</p>", paper.Questions[0].PromptHTML)
}

func TestFetchAttempt_FallsBackToQuestionsField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"durasi":"1.5","questions":[{"id":2,"pertanyaan":"q","opsi":{"A":"a"}}]}`))
	})

	paper, err := c.FetchAttempt(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), paper.DurationSeconds)
	require.Len(t, paper.Questions, 1)
	assert.Equal(t, model.QuestionID(2), paper.Questions[0].ID)
}

func TestRecordAnswer_SendsBody(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/cbt/latihan/A1/jawab", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.RecordAnswer(context.Background(), "A1", 2, ""))
	assert.Equal(t, float64(2), got["soal_id"])
	assert.Equal(t, "", got["jawaban"])
}

func TestFinish_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		msg    string
	}{
		{"server error", http.StatusInternalServerError, `{"message":"db down"}`, "db down"},
		{"success false", http.StatusOK, `{"success":false,"message":"sudah selesai"}`, "sudah selesai"},
		{"garbage", http.StatusOK, `<html>`, "decode"},
		{"empty body", http.StatusOK, ``, "decode"},
		{"empty object", http.StatusOK, `{}`, "missing success"},
		{"message only", http.StatusOK, `{"message":"maintenance"}`, "missing success"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/cbt/latihan/A1/selesai", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			err := c.Finish(context.Background(), "A1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRemoteRejected))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestFinish_TransportErrorIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(Config{BaseURL: srv.URL}, zerolog.Nop())

	err := c.Finish(context.Background(), "A1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRemoteRejected))
}

func TestStartAttempt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/cbt/latihan/mulai", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "P9", body["paket_id"])
		assert.Equal(t, float64(42), body["user_id"])
		_, _ = w.Write([]byte(`{"success":true,"latihan_id":731}`))
	})

	id, err := c.StartAttempt(context.Background(), "P9", 42)
	require.NoError(t, err)
	assert.Equal(t, "731", id)
}

func TestListPackagesResultAndHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cbt/paket", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":9,"judul":"Fiqih Dasar","kategori":"PAI","jumlah_soal":20,"durasi_menit":30,"kkm":"75.00"}]}`))
	})
	mux.HandleFunc("/api/cbt/latihan/A1/hasil", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"paket":"Fiqih Dasar","skor":"80","kkm":75,"benar":16,"total":20,"soal":[{"id":"1","jawaban_user":"B","jawaban_benar":"B","is_benar":true}]}}`))
	})
	mux.HandleFunc("/api/cbt/latihan/history/42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"A1","paket":"Fiqih Dasar","status":"selesai","skor":80}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL}, zerolog.Nop())
	ctx := context.Background()

	pkgs, err := c.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, model.OpaqueID("9"), pkgs[0].ID)
	assert.Equal(t, model.Decimal(75), pkgs[0].PassingScore)

	res, err := c.Result(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, res.Passed())
	require.Len(t, res.Questions, 1)
	assert.Equal(t, model.QuestionID(1), res.Questions[0].ID)

	hist, err := c.History(ctx, 42)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.OpaqueID("A1"), hist[0].ID)
}

func TestStartAndFetch_RequireSuccessFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"latihan_id":731,"durasi":10,"soal":[]}`))
	})
	ctx := context.Background()

	_, err := c.StartAttempt(ctx, "P9", 42)
	assert.ErrorIs(t, err, ErrRemoteRejected)

	_, err = c.FetchAttempt(ctx, "A1")
	assert.ErrorIs(t, err, ErrRemoteRejected)
}
