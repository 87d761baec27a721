package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BioHazard786/roomcall/internal/callerr"
	"github.com/BioHazard786/roomcall/internal/config"
	"github.com/BioHazard786/roomcall/internal/dns"
	"github.com/BioHazard786/roomcall/internal/media"
	"github.com/BioHazard786/roomcall/internal/ui"
)

var httpClient = &http.Client{
	Timeout:   10 * time.Second,
	Transport: &http.Transport{DialContext: dns.DialContext},
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// getJSON fetches path from the relay's HTTP side into v.
func getJSON(ctx context.Context, cfg *config.Config, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.HTTPBaseURL()+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return callerr.Join("GET "+path, callerr.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return callerr.Wrap("GET "+path, callerr.ErrConnection, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func requestRoomName(ctx context.Context, cfg *config.Config) (string, error) {
	stop := ui.RunConnectionSpinner("Asking the relay for a room name...")
	defer stop()

	var body struct {
		Room string `json:"room"`
	}
	if err := getJSON(ctx, cfg, "/new-room", &body); err != nil {
		return "", err
	}
	if body.Room == "" {
		return "", callerr.Wrap("new room", callerr.ErrConnection, "relay returned no name")
	}
	return body.Room, nil
}

func roomLink(cfg *config.Config, room string) string {
	return cfg.HTTPBaseURL() + "/r/" + url.PathEscape(room)
}

// parseRoomInput accepts a bare room name or a share link.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room name cannot be empty")
	}

	if strings.Contains(input, "://") {
		room, err := extractRoomFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccess(fmt.Sprintf("Extracted room: %s", room))
		return room, nil
	}

	return input, nil
}

func extractRoomFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}

	if room := parsedURL.Query().Get("room"); room != "" {
		return room, nil
	}

	parts := strings.Split(strings.TrimSuffix(parsedURL.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return url.PathUnescape(parts[i+1])
		}
	}

	return "", fmt.Errorf("could not extract room from URL: %s", urlStr)
}

// mediaSource picks file playback when files are configured and silent
// tracks otherwise. Every requested kind needs a file once any is given.
func mediaSource(cfg *config.Config, c media.Constraints) (media.Source, error) {
	if !c.Video && !c.Audio {
		return nil, callerr.Wrap("media", callerr.ErrMediaAcquisition, "--no-video and --no-audio leave nothing to send")
	}
	if cfg.VideoFile == "" && cfg.AudioFile == "" {
		ui.PrintInfo("No media files configured, sending silent tracks")
		return media.SilentSource{}, nil
	}

	if c.Video && cfg.VideoFile == "" {
		return nil, callerr.Wrap("media", callerr.ErrMediaAcquisition, "no video file, pass --video or --no-video")
	}
	if c.Audio && cfg.AudioFile == "" {
		return nil, callerr.Wrap("media", callerr.ErrMediaAcquisition, "no audio file, pass --audio or --no-audio")
	}

	stop := ui.RunSpinner("Checking media files...")
	defer stop()

	src := &media.FileSource{}
	if c.Video && cfg.VideoFile != "" {
		info, err := media.ValidateFile(cfg.VideoFile, media.KindVideo)
		if err != nil {
			return nil, err
		}
		src.VideoPath = info.Path
	}
	if c.Audio && cfg.AudioFile != "" {
		info, err := media.ValidateFile(cfg.AudioFile, media.KindAudio)
		if err != nil {
			return nil, err
		}
		src.AudioPath = info.Path
	}
	return src, nil
}

func mediaSink(cfg *config.Config, room string) (media.Sink, error) {
	if cfg.RecordDir == "" {
		return &media.DiscardSink{}, nil
	}
	sink, err := media.NewDiskSink(cfg.RecordDir, room)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return sink, nil
}
