// package ui renders the terminal side of a verification prompt.
//
// Output goes to stderr in practice; stdout is reserved for the code itself.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	qrcode "github.com/skip2/go-qrcode"
)

// Banner renders the box shown while the gateway waits, with an optional QR code of url.
func Banner(url string, withQR bool) string {
	lines := []string{
		styles.title.Render("Verification code required"),
		"",
		"Open " + styles.ok.Render(url) + " and enter the 6-digit code.",
		styles.help.Render("The page stays available until the code is accepted or the wait times out."),
	}
	body := styles.box.Render(strings.Join(lines, "\n"))

	if !withQR {
		return body
	}

	qr, err := QRCode(url)
	if err != nil {
		return lipgloss.JoinVertical(lipgloss.Left, body, styles.warn.Render("QR code unavailable: "+err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, qr)
}

// QRCode renders url as a block-character QR code.
func QRCode(url string) (string, error) {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return code.ToString(false), nil
}

// Outcome renders the one-line final status.
func Outcome(ok bool, detail string) string {
	if ok {
		return styles.ok.Render("✓ Verification successful")
	}
	if detail == "" {
		return styles.err.Render("✗ Verification failed")
	}
	return styles.err.Render("✗ Verification failed: " + detail)
}

// Print writes s followed by a newline, ignoring a nil writer.
func Print(w io.Writer, s string) {
	if w == nil {
		return
	}
	fmt.Fprintln(w, s)
}
