// Package main implements markctl, a command line client for the map
// annotation service. It drives the same store/gateway core the mobile app
// uses: every mutation goes to the server first and is applied locally only
// on success.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/expiry"
	"github.com/map-annotator/backend/internal/gateway"
	"github.com/map-annotator/backend/internal/models"
	"github.com/map-annotator/backend/internal/store"
	syncpkg "github.com/map-annotator/backend/internal/sync"
)

const dayFormat = "2006-01-02"

// rootFlags holds the connection flags shared by every command.
type rootFlags struct {
	server  string
	token   string
	timeout time.Duration
	verbose bool
}

func main() {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "markctl",
		Short: "Place, list, edit and remove map annotations",
		Long:  "markctl talks to the map annotation service, mirroring the mobile app's marker lifecycle.",
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.server, "server", envOr("MARK_SERVER", "http://localhost:8080"), "Service base URL")
	pf.StringVar(&flags.token, "token", os.Getenv("MARK_TOKEN"), "Session token (or MARK_TOKEN env var)")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Second, "Per-request timeout")
	pf.BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(
		newSignUpCmd(&flags),
		newSignInCmd(&flags),
		newListCmd(&flags),
		newPlaceCmd(&flags),
		newEditCmd(&flags),
		newRemoveCmd(&flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}

// newCoordinator builds the client core for one invocation and primes it
// with a refresh so edits and removals see the server's current markers.
func newCoordinator(ctx context.Context, flags *rootFlags) (*syncpkg.Coordinator, error) {
	if flags.token == "" {
		return nil, fmt.Errorf("no session token; sign in first and set --token or MARK_TOKEN")
	}

	logger := newLogger(flags.verbose)
	gw := gateway.NewClient(flags.server, flags.token, flags.timeout, logger)
	c := syncpkg.New(store.New(), gw, flags.timeout, time.Local, logger)

	if err := c.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh annotations: %w", err)
	}
	return c, nil
}

func newSignUpCmd(flags *rootFlags) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register an account and print a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(flags, "/api/v1/auth/signup", models.SignUpRequest{
				Email:           email,
				Password:        password,
				ConfirmPassword: password,
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newSignInCmd(flags *rootFlags) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and print a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(flags, "/api/v1/auth/signin", models.SignInRequest{
				Email:    email,
				Password: password,
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

// authenticate posts credentials and prints the returned token so it can be
// exported as MARK_TOKEN.
func authenticate(flags *rootFlags, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: flags.timeout}
	resp, err := client.Post(flags.server+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reach service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errResp models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Message != "" {
			return fmt.Errorf("%s", errResp.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var auth models.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Println(auth.Token)
	return nil
}

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List annotations still inside their validity window",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCoordinator(cmd.Context(), flags)
			if err != nil {
				return err
			}

			annotations := c.Annotations()
			if len(annotations) == 0 {
				fmt.Println("no active annotations")
				return nil
			}

			for _, a := range annotations {
				end := "never"
				if a.EndDate != nil {
					end = a.EndDate.Local().Format(time.RFC3339)
				}
				fmt.Printf("%s  [%s]  (%.5f, %.5f)  %q  expires %s\n",
					a.ID, a.IconCategory, a.Latitude, a.Longitude, a.Title, end)
			}
			return nil
		},
	}
}

func newPlaceCmd(flags *rootFlags) *cobra.Command {
	var (
		title, desc, icon string
		lat, lng          float64
		startDay, endDay  string
	)
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a new annotation on the map",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := models.Annotation{
				Title:        title,
				Description:  desc,
				Latitude:     lat,
				Longitude:    lng,
				IconCategory: models.IconCategory(icon),
			}

			if startDay != "" {
				start, err := time.ParseInLocation(dayFormat, startDay, time.Local)
				if err != nil {
					return fmt.Errorf("invalid start date %q: %w", startDay, err)
				}
				a.StartDate = &start
			}
			if endDay != "" {
				end, err := time.ParseInLocation(dayFormat, endDay, time.Local)
				if err != nil {
					return fmt.Errorf("invalid end date %q: %w", endDay, err)
				}
				// The form's minimum-date rule: selecting a day that has
				// already fully passed is rejected before placing.
				if expiry.EndOfDay(end, time.Local).Before(time.Now()) {
					return fmt.Errorf("end date %s is in the past", endDay)
				}
				a.EndDate = &end
			}

			c, err := newCoordinator(cmd.Context(), flags)
			if err != nil {
				return err
			}

			placed, err := c.Place(cmd.Context(), a)
			if err != nil {
				return err
			}
			fmt.Println(placed.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&title, "title", "", "Marker title")
	f.StringVar(&desc, "description", "", "Marker description")
	f.Float64Var(&lat, "lat", 0, "Latitude")
	f.Float64Var(&lng, "lng", 0, "Longitude")
	f.StringVar(&icon, "icon", string(models.IconDanger), "Icon category: danger, safe or disaster")
	f.StringVar(&startDay, "start", "", "Validity start day (YYYY-MM-DD)")
	f.StringVar(&endDay, "end", "", "Validity end day (YYYY-MM-DD), inclusive")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lng")
	return cmd
}

func newEditCmd(flags *rootFlags) *cobra.Command {
	var (
		title, desc, icon string
		endDay            string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit an annotation's title, description, icon or end date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := &models.UpdateAnnotationRequest{}
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &desc
			}
			if cmd.Flags().Changed("icon") {
				cat := models.IconCategory(icon)
				patch.IconCategory = &cat
			}
			if endDay != "" {
				end, err := time.ParseInLocation(dayFormat, endDay, time.Local)
				if err != nil {
					return fmt.Errorf("invalid end date %q: %w", endDay, err)
				}
				if expiry.EndOfDay(end, time.Local).Before(time.Now()) {
					return fmt.Errorf("end date %s is in the past", endDay)
				}
				patch.EndDate = &end
			}

			c, err := newCoordinator(cmd.Context(), flags)
			if err != nil {
				return err
			}
			return c.Edit(cmd.Context(), args[0], patch)
		},
	}

	f := cmd.Flags()
	f.StringVar(&title, "title", "", "New title")
	f.StringVar(&desc, "description", "", "New description")
	f.StringVar(&icon, "icon", "", "New icon category")
	f.StringVar(&endDay, "end", "", "New validity end day (YYYY-MM-DD), inclusive")
	return cmd
}

func newRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCoordinator(cmd.Context(), flags)
			if err != nil {
				return err
			}
			return c.Discard(cmd.Context(), args[0])
		},
	}
}
