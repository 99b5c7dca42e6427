package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// OpaqueID is an identifier the exam service sends as a number or a string.
// It is kept as its decimal or string text.
type OpaqueID string

// UnmarshalJSON accepts 9 and "9".
func (id *OpaqueID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OpaqueID(s)
		return nil
	}
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = OpaqueID(n.String())
	return nil
}

// Decimal is a number the exam service may send quoted ("80.00").
type Decimal float64

// UnmarshalJSON accepts 80, 80.5 and "80.50". Empty strings and null decode to 0.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	if len(data) == 0 || string(data) == "null" {
		*d = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*d = Decimal(f)
	return nil
}

// ExamPackage is a package as listed by the exam service.
type ExamPackage struct {
	ID              OpaqueID `json:"id"`
	Title           string   `json:"judul"`
	Category        string   `json:"kategori"`
	QuestionCount   int      `json:"jumlah_soal"`
	DurationMinutes int      `json:"durasi_menit"`
	PassingScore    Decimal  `json:"kkm"`
}

// PackageAction is what a listing screen offers for a package.
type PackageAction string

const (
	PackageActionStart    PackageAction = "START"
	PackageActionContinue PackageAction = "CONTINUE"
)

// PackageListing is a package overlaid with the member's resume pointer.
type PackageListing struct {
	ExamPackage
	Action    PackageAction `json:"action"`
	AttemptID string        `json:"attempt_id,omitempty"`
}

// AttemptPaper is the question set and budget fetched for an attempt.
type AttemptPaper struct {
	PackageID       string
	Questions       []Question
	DurationSeconds int64
}

// ResultQuestion is one reviewed question in a result.
type ResultQuestion struct {
	ID            QuestionID `json:"id"`
	PromptHTML    string     `json:"pertanyaan"`
	UserAnswer    string     `json:"jawaban_user"`
	CorrectAnswer string     `json:"jawaban_benar"`
	IsCorrect     bool       `json:"is_benar"`
	Explanation   string     `json:"pembahasan"`
}

// AttemptResult is the scored outcome of a finished attempt.
type AttemptResult struct {
	Package    string           `json:"paket"`
	Score      Decimal          `json:"skor"`
	PassScore  Decimal          `json:"kkm"`
	Correct    int              `json:"benar"`
	Total      int              `json:"total"`
	StartedAt  string           `json:"waktu_mulai"`
	FinishedAt string           `json:"waktu_selesai"`
	Questions  []ResultQuestion `json:"soal"`
}

// Passed reports whether the score reached the passing threshold.
func (r *AttemptResult) Passed() bool {
	return r.Score >= r.PassScore
}

// HistoryEntry is one attempt in the member's history.
type HistoryEntry struct {
	ID         OpaqueID `json:"id"`
	Package    string   `json:"paket"`
	Status     string   `json:"status"`
	Score      Decimal  `json:"skor"`
	PassScore  Decimal  `json:"kkm"`
	Correct    int      `json:"benar"`
	Total      int      `json:"total"`
	StartedAt  string   `json:"waktu_mulai"`
	FinishedAt string   `json:"waktu_selesai"`
}

// AttemptCompletion is emitted once an attempt is finished successfully.
type AttemptCompletion struct {
	AttemptID  string       `json:"attempt_id"`
	PackageID  string       `json:"package_id"`
	MemberID   int64        `json:"member_id"`
	Answered   int          `json:"answered"`
	Total      int          `json:"total"`
	Reason     SubmitReason `json:"reason"`
	FinishedAt time.Time    `json:"finished_at"`
}

// AttemptLog is a persisted completion row.
type AttemptLog struct {
	ID         string       `json:"id"`
	AttemptID  string       `json:"attempt_id"`
	PackageID  string       `json:"package_id"`
	MemberID   int64        `json:"member_id"`
	Answered   int          `json:"answered"`
	Total      int          `json:"total"`
	Reason     SubmitReason `json:"reason"`
	FinishedAt time.Time    `json:"finished_at"`
}
