package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ent0n29/frenchtutor/internal/speech"
)

var (
	chunksUserAgent string
	chunksLimit     int
)

var chunksCmd = &cobra.Command{
	Use:   "chunks [text...]",
	Short: "Print how a reply would be split for a given browser",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit := chunksLimit
		if limit <= 0 {
			limit = cfg.SpeechChunkLimit
		}
		caps := speech.Detect(chunksUserAgent)
		text := speech.SanitizeForSpeech(strings.Join(args, " "))
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "capabilities: %s\n", caps)
		for i, chunk := range speech.PlanChunks(text, caps, limit) {
			fmt.Fprintf(out, "%3d [%3d] %s\n", i+1, utf8.RuneCountInString(chunk), chunk)
		}
		return nil
	},
}

func init() {
	chunksCmd.Flags().StringVar(&chunksUserAgent, "user-agent", "", "client user agent used for capability detection")
	chunksCmd.Flags().IntVar(&chunksLimit, "limit", 0, "chunk limit in characters (default SPEECH_CHUNK_LIMIT)")
}
