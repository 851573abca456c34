package models

// CompressionResult describes one successful compression attempt.
type CompressionResult struct {
	FileID           string  `json:"fileId"`
	DownloadName     string  `json:"downloadName"`
	OriginalSize     int64   `json:"originalSize"`
	CompressedSize   int64   `json:"compressedSize"`
	SavedBytes       int64   `json:"savedBytes"`
	Percent          float64 `json:"percent"`
	AlreadyOptimized bool    `json:"alreadyOptimized"`
	Summary          string  `json:"summary"`
	ElapsedMs        int64   `json:"elapsedMs"`
	PageCount        int     `json:"pageCount,omitempty"`
}

// DownloadLink is a one-shot reference to a stored file.
type DownloadLink struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
}
