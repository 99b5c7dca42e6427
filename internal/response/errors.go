package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrSessionNotOpen    ErrCode = "SESSION_NOT_OPEN"
	ErrSessionNotReady   ErrCode = "SESSION_NOT_READY"
	ErrNotInProgress     ErrCode = "SESSION_NOT_IN_PROGRESS"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrUnknownOption     ErrCode = "UNKNOWN_OPTION"
	ErrFinishFailed      ErrCode = "FINISH_FAILED"
	ErrTimeUp            ErrCode = "TIME_UP"
	ErrPackageMismatch   ErrCode = "PACKAGE_MISMATCH"
	ErrAttemptLogOff     ErrCode = "ATTEMPT_LOG_DISABLED"
	ErrRemoteRejected    ErrCode = "EXAM_SERVICE_REJECTED"
	ErrRemoteUnavailable ErrCode = "EXAM_SERVICE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrSessionNotOpen:
		return "Sesi ujian belum dibuka. Buka ujian terlebih dahulu."
	case ErrSessionNotReady:
		return "Soal ujian belum tersedia. Silakan muat ulang."
	case ErrNotInProgress:
		return "Ujian tidak sedang berlangsung."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada ujian ini."
	case ErrUnknownOption:
		return "Pilihan jawaban tidak tersedia untuk soal ini."
	case ErrFinishFailed:
		return "Pengumpulan ujian gagal. Jawaban Anda tetap tersimpan, silakan coba lagi."
	case ErrTimeUp:
		return "Waktu ujian habis. Jawaban tidak dapat diubah, silakan kumpulkan ujian."
	case ErrPackageMismatch:
		return "Ujian ini sudah dibuka untuk paket lain."
	case ErrAttemptLogOff:
		return "Riwayat pengerjaan tidak diaktifkan di server ini."
	case ErrRemoteRejected:
		return "Layanan ujian menolak permintaan."
	case ErrRemoteUnavailable:
		return "Layanan ujian sedang tidak dapat dihubungi. Silakan coba lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
