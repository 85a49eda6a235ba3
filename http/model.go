package http

type Error struct {
	Error string `json:"error"`
}

type limitsPayload struct {
	DownloadMbit float64 `json:"downloadMbit"`
	UploadMbit   float64 `json:"uploadMbit"`
}
