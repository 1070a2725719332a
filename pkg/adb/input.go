package adb

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"flowfarm/pkg/logger"
)

// ADBKeyboardIME is the input method that accepts base64 text broadcasts.
const ADBKeyboardIME = "com.android.adbkeyboard/.AdbIME"

// defaultIMESettle is how long the IME needs to bind to the focused field after a switch.
const defaultIMESettle = 800 * time.Millisecond

// InputText types text into the focused field. ASCII goes through "input text";
// anything else needs ADBKeyboard, which is switched in for the broadcast and
// the previous input method restored afterwards.
func (c *Client) InputText(ctx context.Context, deviceID, text string) error {
	if text == "" {
		return nil
	}
	if containsNonASCII(text) {
		return c.inputViaADBKeyboard(ctx, deviceID, text)
	}
	_, err := c.Run(ctx, deviceID, 0, "shell", "input", "text", escapeForInput(text))
	return err
}

func (c *Client) inputViaADBKeyboard(ctx context.Context, deviceID, text string) error {
	previous, err := c.Shell(ctx, deviceID, "settings get secure default_input_method")
	if err != nil {
		return err
	}
	if previous != ADBKeyboardIME {
		if _, err := c.Shell(ctx, deviceID, "ime set "+ADBKeyboardIME); err != nil {
			return fmt.Errorf("ADBKeyboard not available: %w", err)
		}
		defer c.restoreIME(deviceID, previous)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.imeSettle):
		}
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	out, err := c.Shell(ctx, deviceID, "am broadcast -a ADB_INPUT_B64 --es msg "+encoded)
	if err != nil {
		return fmt.Errorf("ADBKeyboard broadcast failed: %w", err)
	}
	if !strings.Contains(out, "result=") {
		logger.Debug("adb").Str("device", deviceID).Str("output", out).Msg("unexpected broadcast result")
	}
	return nil
}

// restoreIME uses its own context so the keyboard is switched back after a cancel.
func (c *Client) restoreIME(deviceID, previous string) {
	if previous == "" || previous == "null" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Shell(ctx, deviceID, "ime set "+previous); err != nil {
		logger.Warn("adb").Str("device", deviceID).Str("ime", previous).Err(err).Msg("failed to restore input method")
	}
}

func containsNonASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return true
		}
	}
	return false
}

var inputEscaper = strings.NewReplacer(
	" ", "%s",
	`\`, `\\`, `'`, `\'`, `"`, `\"`, "`", "\\`", "$", `\$`,
	"(", `\(`, ")", `\)`, "{", `\{`, "}", `\}`, "[", `\[`, "]", `\]`,
	"&", `\&`, "|", `\|`, ";", `\;`, "<", `\<`, ">", `\>`,
	"#", `\#`, "!", `\!`, "~", `\~`, "*", `\*`, "?", `\?`,
)

// escapeForInput prepares ASCII text for "input text", which reads %s as a space
// and goes through the device shell.
func escapeForInput(text string) string {
	return inputEscaper.Replace(text)
}
