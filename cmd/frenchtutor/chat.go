package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/frenchtutor/internal/keystore"
	"github.com/ent0n29/frenchtutor/internal/speech"
	"github.com/ent0n29/frenchtutor/internal/tutor"
)

var chatWordDelay time.Duration

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the tutor in the terminal",
	Long:  "Runs a conversation on stdin/stdout. Typed lines go through the recognition controller and replies through the synthesis controller, both backed by mock engines.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return chat(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().DurationVar(&chatWordDelay, "word-delay", 60*time.Millisecond, "simulated speaking time per word")
}

func chat(ctx context.Context, in io.Reader, out io.Writer) error {
	brain, err := tutor.NewBrain(cfg.TutorBrain, cfg.OpenAIBaseURL)
	if err != nil {
		return err
	}
	keys := keystore.NewResolver(cfg.OpenAIAPIKey, nil)

	loop := speech.NewLoop(logger)
	go loop.Run(ctx)

	synth := speech.NewSynthesis(loop, speech.NewMockSynthesizer(prefixWriter{out: out, prefix: "tuteur> "}, chatWordDelay), speech.SynthesisConfig{
		ChunkLimit: cfg.SpeechChunkLimit,
		Language:   cfg.DefaultLanguage,
		Logger:     logger,
	})
	synth.Initialize()
	defer synth.Close()

	recognizer := speech.NewMockRecognizer()
	rec := speech.NewRecognition(loop, recognizer, speech.RecognitionConfig{
		StartDelay:    cfg.SpeechStartDelay,
		NoSpeechGrace: cfg.SpeechNoSpeechGrace,
		Logger:        logger,
	})
	defer rec.Close()

	conv := tutor.NewConversation(brain, tutor.ConversationConfig{
		Model:       cfg.OpenAIModel,
		Temperature: cfg.ChatTemperature,
		MaxTokens:   cfg.ChatMaxTokens,
		Key: func(ctx context.Context) (string, error) {
			key, _, err := keys.Resolve(ctx, "cli")
			return key, err
		},
		Logger: logger,
	})

	say := func(reply string) error {
		if err := synth.Speak(speech.SanitizeForSpeech(reply), speech.SpeakOptions{}).Wait(ctx); err != nil && !errors.Is(err, speech.ErrEmptyText) {
			return err
		}
		return nil
	}

	greeting, err := conv.Start(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("greeting failed")
		greeting = tutor.FallbackGreeting
	}
	if err := say(greeting); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "vous> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			conv.Reset()
			greeting, err := conv.Start(ctx)
			if err != nil {
				return err
			}
			if err := say(greeting); err != nil {
				return err
			}
			continue
		}

		transcript, err := transcribe(ctx, rec, recognizer, line)
		if err != nil {
			fmt.Fprintf(out, "(reconnaissance: %v)\n", err)
			continue
		}
		reply, err := conv.Send(ctx, transcript)
		if errors.Is(err, tutor.ErrDuplicateMessage) {
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "(erreur: %v)\n", err)
			continue
		}
		if err := say(reply); err != nil {
			return err
		}
	}
}

// transcribe runs one capture through the recognition controller, speaking
// line into the mock engine once it is listening.
func transcribe(ctx context.Context, rec *speech.Recognition, engine *speech.MockRecognizer, line string) (string, error) {
	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	rec.Start(
		func(text string, _ float64) { done <- outcome{text: text} },
		func(code string) { done <- outcome{err: &speech.EngineError{Code: code}} },
	)

	deadline := time.Now().Add(2 * time.Second)
	for !engine.Running() {
		if time.Now().After(deadline) {
			rec.Stop()
			return "", errors.New("recognizer did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	engine.Say(line)
	rec.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case o := <-done:
		return o.text, o.err
	}
}

type prefixWriter struct {
	out    io.Writer
	prefix string
}

func (w prefixWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.out, w.prefix); err != nil {
		return 0, err
	}
	return w.out.Write(p)
}
