package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"grouplog/internal/driver/onebot"
	"grouplog/internal/store"
	"grouplog/internal/transcript"
	"grouplog/pkg/chatlog"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the configured driver and keep group logs updated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts.configPath, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			return a.serve(cmd.Context())
		},
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "sync <group-id>...",
		Short: "Fetch recent messages of groups and merge them into their logs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			runtime, err := a.remote(ctx)
			if err != nil {
				return err
			}
			stop, err := a.startRemote(ctx, runtime)
			if err != nil {
				return fmt.Errorf("start driver %s: %w", runtime.Name, err)
			}
			defer func() {
				_ = stop()
			}()

			formatter, err := a.newFormatter(runtime.Lookup)
			if err != nil {
				return err
			}
			service, err := a.newIngest(formatter, count)
			if err != nil {
				return err
			}

			var errs []error
			for _, groupID := range args {
				result, err := service.Sync(ctx, groupID)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				printSaveResult(cmd.OutOrStdout(), groupID, result)
			}

			return errors.Join(errs...)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Messages to fetch per group (0 uses sync_count from config).")

	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var useRemote bool
	cmd := &cobra.Command{
		Use:   "import <group-id> <file|->",
		Short: "Format OneBot messages from a JSON file and merge them into a group log",
		Long: "Reads an array of OneBot message objects, a get_group_msg_history data object, " +
			"or a full action response. References are resolved from the file itself unless --remote is set.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, source := args[0], args[1]
			data, err := readInput(cmd.InOrStdin(), source)
			if err != nil {
				return err
			}
			messages, err := decodeImport(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", source, err)
			}

			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var remote chatlog.RemoteLookup
			if useRemote {
				runtime, err := a.remote(ctx)
				if err != nil {
					return err
				}
				stop, err := a.startRemote(ctx, runtime)
				if err != nil {
					return fmt.Errorf("start driver %s: %w", runtime.Name, err)
				}
				defer func() {
					_ = stop()
				}()
				remote = runtime.Lookup
			}

			formatter, err := a.newFormatter(remote)
			if err != nil {
				return err
			}
			service, err := a.newIngest(formatter, 0)
			if err != nil {
				return err
			}

			result, err := service.Save(ctx, groupID, messages)
			if err != nil {
				return err
			}
			printSaveResult(cmd.OutOrStdout(), groupID, result)

			return nil
		},
	}
	cmd.Flags().BoolVar(&useRemote, "remote", false, "Resolve references through the configured driver.")

	return cmd
}

type transcriptOutput struct {
	GroupID    string             `json:"group_id"`
	UpdateTime string             `json:"update_time"`
	Text       string             `json:"text"`
	Images     []chatlog.Resource `json:"images"`
}

func newTranscriptCmd(opts *rootOptions) *cobra.Command {
	var (
		imageLimit int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "transcript <group-id>",
		Short: "Render the stored log of a group as a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			groupID := args[0]
			log, found, err := a.store.Load(cmd.Context(), groupID)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("group %s: %w", groupID, chatlog.ErrNotFound)
			}

			if imageLimit < 0 {
				imageLimit = a.cfg.Transcript.ImageLimit
			}
			result := transcript.Render(log, transcript.WithImageLimit(imageLimit))

			out := cmd.OutOrStdout()
			if !asJSON {
				_, err := fmt.Fprintln(out, result.Text)
				return err
			}

			images := result.Images
			if images == nil {
				images = []chatlog.Resource{}
			}
			encoder := json.NewEncoder(out)
			encoder.SetEscapeHTML(false)
			encoder.SetIndent("", "  ")

			return encoder.Encode(transcriptOutput{
				GroupID:    log.GroupID,
				UpdateTime: log.UpdateTime,
				Text:       result.Text,
				Images:     images,
			})
		},
	}
	cmd.Flags().IntVar(&imageLimit, "image-limit", -1, "Images to number (-1 uses transcript.image_limit from config).")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the transcript and numbered images as JSON.")

	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <group-id>...",
		Short: "Delete the stored logs of groups",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var errs []error
			for _, groupID := range args {
				if err := a.store.Reset(cmd.Context(), groupID); err != nil {
					errs = append(errs, err)
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "group %s: reset\n", groupID)
			}

			return errors.Join(errs...)
		},
	}
}

func printSaveResult(out io.Writer, groupID string, result store.SaveResult) {
	_, _ = fmt.Fprintf(out, "group %s: added %d, skipped %d, dropped %d, total %d\n",
		groupID, result.Added, result.Skipped, result.Dropped, result.Total)
}

func readInput(stdin io.Reader, source string) ([]byte, error) {
	if strings.TrimSpace(source) == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}

	return data, nil
}

// decodeImport accepts a message array, a history data object, or a full
// action response wrapping either.
func decodeImport(data []byte) ([]chatlog.RawMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}

	root := gjson.ParseBytes(data)
	candidates := []gjson.Result{root, root.Get("messages"), root.Get("data"), root.Get("data.messages")}
	for _, candidate := range candidates {
		if candidate.IsArray() {
			return onebot.DecodeMessages(candidate)
		}
	}

	return nil, errors.New("no message array found")
}
