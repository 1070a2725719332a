package adb

import (
	"context"
	"fmt"
	"os"
	"time"

	"flowfarm/pkg/logger"
)

// Remote scratch files used by the capture-then-pull operations.
const (
	RemoteDumpPath       = "/sdcard/flowfarm_ui_dump.xml"
	RemoteScreenshotPath = "/sdcard/flowfarm_screenshot.png"
)

// DumpUI captures the UI hierarchy on the device, pulls it and returns the raw XML.
// The remote file is removed whether or not the pull succeeds.
func (c *Client) DumpUI(ctx context.Context, deviceID string) ([]byte, error) {
	defer c.removeRemote(deviceID, RemoteDumpPath)

	if _, err := c.Run(ctx, deviceID, 0, "shell", "uiautomator", "dump", RemoteDumpPath); err != nil {
		return nil, err
	}

	local, err := os.CreateTemp("", "flowfarm-ui-*.xml")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	localPath := local.Name()
	local.Close()
	defer os.Remove(localPath)

	if _, err := c.Run(ctx, deviceID, 0, "pull", RemoteDumpPath, localPath); err != nil {
		return nil, err
	}
	return os.ReadFile(localPath)
}

// Screenshot captures the screen to localPath using the same two-step pattern as DumpUI.
func (c *Client) Screenshot(ctx context.Context, deviceID, localPath string) error {
	defer c.removeRemote(deviceID, RemoteScreenshotPath)

	if _, err := c.Run(ctx, deviceID, 0, "shell", "screencap", "-p", RemoteScreenshotPath); err != nil {
		return err
	}
	if _, err := c.Run(ctx, deviceID, 0, "pull", RemoteScreenshotPath, localPath); err != nil {
		return err
	}
	return nil
}

// removeRemote uses its own context so cleanup still runs after the caller's is cancelled.
func (c *Client) removeRemote(deviceID, remote string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Run(ctx, deviceID, 0, "shell", "rm", "-f", remote); err != nil {
		logger.Warn("adb").Err(err).Str("device", deviceID).Str("path", remote).Msg("failed to remove remote capture")
	}
}
