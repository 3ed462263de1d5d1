// Command chatwatch is a terminal client that follows a viewer's
// conversation list and who is online.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/messenger/internal/client"
	"github.com/capitalize-ai/messenger/internal/config"
	"github.com/capitalize-ai/messenger/internal/convlist"
	"github.com/capitalize-ai/messenger/internal/middleware"
	"github.com/capitalize-ai/messenger/internal/model"
	"github.com/capitalize-ai/messenger/pkg/logger"
)

var (
	apiURL   string
	token    string
	logLevel string
	cfg      *config.Config
	log      *logger.Logger
)

func main() {
	cfg = config.Load()

	root := &cobra.Command{
		Use:   "chatwatch",
		Short: "Follow conversations and presence from the terminal",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			log, err = logger.New(logLevel)
			return err
		},
	}

	root.PersistentFlags().StringVar(&apiURL, "api", envOr("MESSENGER_API", "http://localhost:"+cfg.ServerPort+"/api/v1"), "messenger API base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("MESSENGER_TOKEN"), "bearer token (default $MESSENGER_TOKEN)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	root.AddCommand(watchCmd())
	root.AddCommand(listCmd())
	root.AddCommand(presenceCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// viewerFromToken reads the identity claims. The server verifies the
// signature; the client only needs to know who it is.
func viewerFromToken(raw string) (model.Viewer, error) {
	if raw == "" {
		return model.Viewer{}, fmt.Errorf("no token: pass --token or set MESSENGER_TOKEN")
	}
	claims := &middleware.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return model.Viewer{}, fmt.Errorf("failed to read token: %w", err)
	}
	v := model.Viewer{UserID: claims.Subject, Email: claims.Email, Name: claims.Name}
	if !v.Valid() {
		return model.Viewer{}, fmt.Errorf("token has no subject or email")
	}
	return v, nil
}

func newAPI() (*client.HTTPAPI, error) {
	return client.NewHTTPAPI(apiURL, token, 10*time.Second)
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the conversation list once",
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := viewerFromToken(token)
			if err != nil {
				return err
			}
			api, err := newAPI()
			if err != nil {
				return err
			}

			convs, err := api.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			list := convlist.New()
			list.Initialize(convs)
			printList(viewer, list.Items())
			return nil
		},
	}
}

func presenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presence",
		Short: "Print who is online",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI()
			if err != nil {
				return err
			}
			members, err := api.Presence(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range members {
				fmt.Println(m)
			}
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var userID, email, name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer := model.Viewer{UserID: userID, Email: email, Name: name}
			if !viewer.Valid() {
				return fmt.Errorf("--user and --email are required")
			}
			signed, err := middleware.IssueToken(cfg.JWTSecret, viewer, jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.JWTExpiration)),
			})
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func printList(viewer model.Viewer, convs []model.Conversation) {
	for _, c := range convs {
		mark := " "
		if !convlist.HasSeen(c, viewer.Email) {
			mark = "*"
		}
		fmt.Printf("%s %-24s %-40s %s\n", mark, title(c, viewer), convlist.Preview(c), c.LastActivity().Local().Format(time.Kitchen))
	}
}

func title(c model.Conversation, viewer model.Viewer) string {
	if c.IsGroup {
		return c.Name
	}
	var names []string
	for _, p := range c.Participants {
		if p.ID != viewer.UserID {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}
