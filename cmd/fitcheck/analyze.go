package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/fitcheck/internal/analysis"
	"github.com/Veraticus/fitcheck/internal/cli"
	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/service"
	"github.com/Veraticus/fitcheck/internal/tui"
	"github.com/Veraticus/fitcheck/internal/tui/themes"
)

const maxImageBytes = 20 << 20

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze IMAGE",
		Short: "Get a critique of an outfit photo (costs one credit)",
		Long: `Send an outfit photo to the stylist and get a critique, a voiced
rendition of it and suggestions for pieces to add, with images to shop.

One credit is spent per analysis. If the stylist or the voice step fails,
the credit is refunded automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	presets := make([]string, 0, len(model.OccasionPresets()))
	for _, p := range model.OccasionPresets() {
		presets = append(presets, string(p))
	}

	cmd.Flags().String("occasion", "", "occasion: "+strings.Join(presets, ", "))
	cmd.Flags().String("custom-occasion", "", "describe the occasion in your own words (implies --occasion custom)")
	cmd.Flags().String("tone", string(model.ToneBalanced), "critique tone: gentle, balanced or brutal")
	cmd.Flags().String("language", "", "critique language as an ISO code (default from analysis.language)")
	cmd.Flags().Bool("plain", false, "print progress without the interactive view")
	cmd.Flags().Bool("play", false, "play the voiced critique with audio.player")
	cmd.Flags().String("theme", "", "interactive view theme (default, catppuccin)")

	_ = viper.BindPFlag("ui.theme", cmd.Flags().Lookup("theme"))

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	req, err := buildRequest(cmd, args[0])
	if err != nil {
		return err
	}

	plain, _ := cmd.Flags().GetBool("plain")
	play, _ := cmd.Flags().GetBool("play")

	return withApp(ctx, func(a *app) error {
		var (
			player *cli.ExecPlayer
			deps   service.AudioPlayer
		)
		if play {
			player, err = cli.NewExecPlayer(viper.GetString("audio.player"), a.logger)
			if err != nil {
				return common.NewUserError("Set audio.player in your config to use --play.", err)
			}
			deps = player
		}

		wf, err := a.newWorkflow(ctx, deps)
		if err != nil {
			return err
		}

		interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
		ctx := interrupts.HandleInterrupts(ctx)

		var session analysis.Session
		if plain || !isatty.IsTerminal(os.Stdout.Fd()) {
			session, err = analyzePlain(ctx, out, wf, req)
		} else {
			session, err = tui.RunAnalysis(ctx, wf, req, tui.Options{
				Theme:  themes.ByName(viper.GetString("ui.theme")),
				Output: out,
			})
		}
		if err != nil {
			return err
		}
		interrupts.MarkCharged()

		// Whatever enrichment found before the view closed is shown.
		session = wf.Snapshot()
		if _, err := fmt.Fprintln(out, cli.RenderCritique(session)); err != nil {
			return fmt.Errorf("failed to write critique: %w", err)
		}
		if _, err := fmt.Fprintln(out, cli.RenderSuggestions(session)); err != nil {
			return fmt.Errorf("failed to write suggestions: %w", err)
		}
		if _, err := fmt.Fprintln(out, cli.RenderBalance(a.ledger.Remaining())); err != nil {
			return fmt.Errorf("failed to write balance: %w", err)
		}

		if player != nil && !session.Audio.IsZero() {
			if err := player.Play(ctx, session.Audio.Path); err != nil {
				return err
			}
			defer player.Pause()
			if err := player.Wait(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
		return nil
	})
}

// analyzePlain runs the analysis with line output and a progress bar.
func analyzePlain(ctx context.Context, out io.Writer, wf *analysis.Workflow, req analysis.Request) (analysis.Session, error) {
	updates, unsubscribe := wf.Subscribe()
	defer unsubscribe()

	if _, err := fmt.Fprintln(out, cli.FormatInfo("The stylist is looking at your outfit...")); err != nil {
		return analysis.Session{}, fmt.Errorf("failed to write progress: %w", err)
	}

	session, err := wf.Start(ctx, req)
	if err != nil {
		return session, err
	}
	return cli.FollowEnrichment(ctx, out, wf, updates), nil
}

func buildRequest(cmd *cobra.Command, imagePath string) (analysis.Request, error) {
	occasionFlag, _ := cmd.Flags().GetString("occasion")
	custom, _ := cmd.Flags().GetString("custom-occasion")
	toneFlag, _ := cmd.Flags().GetString("tone")
	language, _ := cmd.Flags().GetString("language")

	occasion := model.Occasion{Preset: model.OccasionPreset(strings.ToLower(occasionFlag))}
	if custom != "" {
		occasion = model.Occasion{Preset: model.OccasionCustom, Custom: custom}
	}

	tone, err := model.ParseTone(toneFlag)
	if err != nil {
		return analysis.Request{}, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}

	image, mimeType, err := readImage(imagePath)
	if err != nil {
		return analysis.Request{}, err
	}

	return analysis.Request{
		Image:    image,
		MimeType: mimeType,
		Occasion: occasion,
		Tone:     tone,
		Language: language,
	}, nil
}

func readImage(path string) ([]byte, string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, "", common.NewUserError("Couldn't open the photo.", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read photo: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", common.NewUserError("The photo is larger than 20 MB.", common.ErrValidation)
	}

	mimeType := http.DetectContentType(data)
	switch mimeType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
	default:
		return nil, "", common.NewUserError("That file doesn't look like a JPEG, PNG, WebP or GIF photo.", common.ErrValidation)
	}
	return data, mimeType, nil
}
