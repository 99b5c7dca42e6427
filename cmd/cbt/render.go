package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/agpaii-digital/exam-portal/internal/model"
	"golang.org/x/net/html"
)

// plainText flattens question HTML for the terminal. Block elements and
// line breaks become newlines; everything else keeps only its text.
func plainText(src string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseBlankLines(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li", "tr":
				b.WriteByte('\n')
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func formatRemaining(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func renderView(w io.Writer, v model.SessionView) {
	fmt.Fprintf(w, "\n── %s ── sisa %s ── terjawab %d/%d ──\n",
		v.State, formatRemaining(v.RemainingSeconds), v.AnsweredCount, v.QuestionCount)
	if v.LastError != "" {
		fmt.Fprintf(w, "! %s\n", v.LastError)
	}
	if v.Question == nil {
		fmt.Fprintln(w, "Soal belum tersedia.")
		return
	}

	q := v.Question
	fmt.Fprintf(w, "\nSoal %d dari %d\n%s\n\n", q.Number, v.QuestionCount, plainText(q.PromptHTML))
	for _, opt := range q.Options {
		mark := " "
		if opt.Key == q.Selected {
			mark = "*"
		}
		fmt.Fprintf(w, " %s %s. %s\n", mark, opt.Key, plainText(opt.HTML))
	}
}

func renderResult(w io.Writer, r *model.AttemptResult) {
	status := "BELUM LULUS"
	if r.Passed() {
		status = "LULUS"
	}
	fmt.Fprintf(w, "\n%s\nSkor %.2f (KKM %.2f), benar %d dari %d: %s\n",
		r.Package, float64(r.Score), float64(r.PassScore), r.Correct, r.Total, status)
}

const helpText = `Perintah:
  n          soal berikutnya
  p          soal sebelumnya
  g <nomor>  lompat ke soal
  a <kunci>  pilih jawaban (mis. a B)
  r          muat ulang soal
  s          selesai dan kirim
  q          keluar (ujian dapat dilanjutkan)
  h          bantuan`
