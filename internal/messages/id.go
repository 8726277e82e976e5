package messages

// ─── Notification types ──────────────────────────────────────────────────────

const (
	BinStatusTitle   = "Status tempat sampah"
	AchievementTitle = "Pencapaian baru"
	RewardTitle      = "Hadiah poin"
	SystemTitle      = "Info sistem"
	GenericTitle     = "Notifikasi Setorin"

	// Body used when a notification arrives without a message.
	EmptyBody = "Anda memiliki notifikasi baru."
)

// ─── Errors ──────────────────────────────────────────────────────────────────

const (
	UnauthenticatedText    = "Silakan masuk untuk melihat notifikasi."
	AuthInvalidText        = "Sesi Anda telah berakhir. Silakan masuk kembali."
	NetworkUnavailableText = "Tidak dapat terhubung ke server. Periksa koneksi internet Anda."
	GatewayDegradedText    = "Notifikasi langsung sedang tertunda. Kami mencoba menyambung kembali."
	MutationFailedText     = "Perubahan gagal disimpan dan telah dibatalkan."
	ServerErrorText        = "Terjadi kesalahan pada server. Silakan coba lagi."
	NotFoundText           = "Notifikasi tidak ditemukan."
	UnknownErrorText       = "Terjadi kesalahan. Silakan coba lagi."
)

// ─── Summary ─────────────────────────────────────────────────────────────────

const (
	UnreadSummaryNone = "Tidak ada notifikasi baru"
	UnreadSummaryBody = "%d notifikasi belum dibaca"
)
