package validator

import (
	"bytes"
	"strings"
)

// MIME-типы, определяемые по содержимому.
const (
	MIMEJPEG      = "image/jpeg"
	MIMEPNG       = "image/png"
	MIMEGIF       = "image/gif"
	MIMEWebP      = "image/webp"
	MIMEPDF       = "application/pdf"
	MIMEMSWord    = "application/msword"
	MIMEMSExcel   = "application/vnd.ms-excel"
	MIMEDocx      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEXlsx      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEText      = "text/plain"
	MIMECSV       = "text/csv"
	MIMEMP4       = "video/mp4"
	MIMEQuickTime = "video/quicktime"
	MIMEAVI       = "video/x-msvideo"
	MIMEWMV       = "video/x-ms-wmv"
	MIMEWebM      = "video/webm"
	MIMEMP3       = "audio/mpeg"
	MIMEWAV       = "audio/wav"
	MIMEOgg       = "audio/ogg"
	MIMEM4A       = "audio/mp4"
)

const (
	// minSniffLen — буферы короче не распознаются.
	minSniffLen = 12
	// zipSniffLen — сколько байт ZIP просматривается в поиске word/ и xl/.
	zipSniffLen = 4096
	// textSampleLen — размер выборки для текстовой эвристики.
	textSampleLen = 512
	// textRatio — минимальная доля печатных байт.
	textRatio = 0.95
)

var (
	sigJPEG = []byte{0xFF, 0xD8, 0xFF}
	sigPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	sigGIF  = []byte("GIF")
	sigRIFF = []byte("RIFF")
	sigPDF  = []byte("%PDF")
	sigID3  = []byte("ID3")
	sigOgg  = []byte("OggS")
	sigEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	sigOLE  = []byte{0xD0, 0xCF, 0x11, 0xE0}
	sigZIP  = []byte{0x50, 0x4B, 0x03, 0x04}
	sigASF  = []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11}
)

// Detect определяет MIME-тип по сигнатуре содержимого.
// declaredExt (в нижнем регистре, с точкой) используется только для выбора
// между форматами с общей сигнатурой (OLE doc/xls, text/csv).
// Пустая строка — тип не распознан.
func Detect(buf []byte, declaredExt string) string {
	if len(buf) < minSniffLen {
		return ""
	}

	switch {
	case bytes.HasPrefix(buf, sigJPEG):
		return MIMEJPEG
	case bytes.HasPrefix(buf, sigPNG):
		return MIMEPNG
	case bytes.HasPrefix(buf, sigGIF):
		return MIMEGIF
	case bytes.HasPrefix(buf, sigRIFF):
		switch string(buf[8:12]) {
		case "WEBP":
			return MIMEWebP
		case "WAVE":
			return MIMEWAV
		case "AVI ":
			return MIMEAVI
		}
		return ""
	case bytes.HasPrefix(buf, sigPDF):
		return MIMEPDF
	}

	// ISO BMFF: размер бокса (4 байта) + тип
	switch string(buf[4:8]) {
	case "ftyp":
		brand := string(buf[8:12])
		switch {
		case brand == "qt  ":
			return MIMEQuickTime
		case strings.HasPrefix(brand, "M4A"):
			return MIMEM4A
		default:
			return MIMEMP4
		}
	case "moov", "mdat", "wide":
		return MIMEQuickTime
	}

	switch {
	case bytes.HasPrefix(buf, sigID3), isMPEGFrameSync(buf):
		return MIMEMP3
	case bytes.HasPrefix(buf, sigOgg):
		return MIMEOgg
	case bytes.HasPrefix(buf, sigEBML):
		return MIMEWebM
	case bytes.HasPrefix(buf, sigASF):
		return MIMEWMV
	case bytes.HasPrefix(buf, sigOLE):
		if declaredExt == ".xls" {
			return MIMEMSExcel
		}
		return MIMEMSWord
	case bytes.HasPrefix(buf, sigZIP):
		head := buf[:min(len(buf), zipSniffLen)]
		switch {
		case bytes.Contains(head, []byte("word/")):
			return MIMEDocx
		case bytes.Contains(head, []byte("xl/")):
			return MIMEXlsx
		}
		// Произвольный ZIP не принимается
		return ""
	}

	if isText(buf) {
		if declaredExt == ".csv" {
			return MIMECSV
		}
		return MIMEText
	}
	return ""
}

// isMPEGFrameSync — заголовок кадра MPEG audio layer III без ID3.
func isMPEGFrameSync(buf []byte) bool {
	if buf[0] != 0xFF || buf[1]&0xE0 != 0xE0 {
		return false
	}
	// layer: биты 2-1 второго байта, 01 — Layer III
	return (buf[1]>>1)&0x03 == 0x01
}

// isText — не менее 95% выборки являются печатными байтами
// (ASCII 32-126, табуляция, перевод строки или байты UTF-8 >= 128).
func isText(buf []byte) bool {
	sample := buf[:min(len(buf), textSampleLen)]
	printable := 0
	for _, b := range sample {
		if (b >= 32 && b <= 126) || b == '\t' || b == '\n' || b == '\r' || b >= 128 {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) >= textRatio
}
