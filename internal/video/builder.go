// Package video renders still-image narration clips and compilations with ffmpeg.
package video

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultFFmpegPath   = "ffmpeg"
	DefaultEncoder      = "libx264"
	DefaultPreset       = "veryfast"
	DefaultWidth        = 1080
	DefaultHeight       = 1920
	DefaultFPS          = 30
	DefaultAudioBitrate = "192k"
	DefaultCardDuration = 3 * time.Second
)

// Every clip and card shares one audio layout so compilations can stream-copy.
const (
	audioSampleRate = "44100"
	audioChannels   = "2"
	cardBackground  = "black"
	cardFontColor   = "white"
)

// Options is the render profile shared by every clip of a job.
type Options struct {
	FFmpegPath   string
	Encoder      string
	Preset       string
	Width        int
	Height       int
	FPS          int
	AudioBitrate string
	OutputDir    string
	// TitleCard and EndCard are optional text screens around a compilation.
	// "{n}" in TitleCard is replaced by the compilation number.
	TitleCard    string
	EndCard      string
	CardDuration time.Duration
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = DefaultFFmpegPath
	}

	if o.Encoder == "" {
		o.Encoder = DefaultEncoder
	}

	if o.Preset == "" {
		o.Preset = DefaultPreset
	}

	if o.Width <= 0 {
		o.Width = DefaultWidth
	}

	if o.Height <= 0 {
		o.Height = DefaultHeight
	}

	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}

	if o.AudioBitrate == "" {
		o.AudioBitrate = DefaultAudioBitrate
	}

	if o.CardDuration <= 0 {
		o.CardDuration = DefaultCardDuration
	}

	return o
}

// BuildCompose returns the ffmpeg arguments, without the binary, that loop
// imagePath for exactly duration under audioPath.
func BuildCompose(opts Options, imagePath, audioPath string, duration time.Duration, output string) []string {
	args := make([]string, 0, 48)

	// --- Preamble ---
	args = append(args, "-hide_banner", "-nostdin", "-y", "-loglevel", "error")

	// --- Inputs ---
	args = append(args,
		"-loop", "1",
		"-framerate", strconv.Itoa(opts.FPS),
		"-i", imagePath,
		"-i", audioPath,
	)

	// --- Stream maps ---
	args = append(args, "-map", "0:v", "-map", "1:a")

	// --- Video codec ---
	args = append(args,
		"-c:v", opts.Encoder,
		"-preset", opts.Preset,
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-vf", scaleFilter(opts.Width, opts.Height),
	)

	// --- Audio codec ---
	args = append(args, "-c:a", "aac", "-b:a", opts.AudioBitrate, "-ar", audioSampleRate, "-ac", audioChannels)

	// --- Length and container ---
	args = append(args,
		"-t", formatSeconds(duration),
		"-movflags", "+faststart",
		output,
	)

	return args
}

// BuildCard returns the ffmpeg arguments that render the text in textFile,
// centred on a plain background with silent audio, in the clip render profile.
func BuildCard(opts Options, textFile string, output string) []string {
	fontSize := opts.Width / 14
	duration := formatSeconds(opts.CardDuration)

	return []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%s", cardBackground, opts.Width, opts.Height, opts.FPS, duration),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%s:cl=stereo", audioSampleRate),
		"-vf", fmt.Sprintf(
			"drawtext=textfile='%s':fontcolor=%s:fontsize=%d:x=(w-text_w)/2:y=(h-text_h)/2",
			escapeFilterValue(textFile), cardFontColor, fontSize,
		),
		"-c:v", opts.Encoder,
		"-preset", opts.Preset,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", opts.AudioBitrate, "-ar", audioSampleRate, "-ac", audioChannels,
		"-t", duration,
		"-movflags", "+faststart",
		output,
	}
}

// BuildConcat returns the ffmpeg arguments that stream-copy the clips listed in
// listPath into output.
func BuildConcat(listPath, output string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
}

func scaleFilter(width, height int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		width, height, width, height,
	)
}

func formatSeconds(duration time.Duration) string {
	return strconv.FormatFloat(duration.Seconds(), 'f', 3, 64)
}

// concatLine quotes path for the concat demuxer list format.
func concatLine(path string) string {
	return "file '" + strings.ReplaceAll(path, "'", `'\''`) + "'\n"
}

// escapeFilterValue escapes a value placed inside single quotes in a filtergraph.
func escapeFilterValue(value string) string {
	return strings.ReplaceAll(value, "'", `'\''`)
}
