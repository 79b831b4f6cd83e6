package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/audit"
	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

type userView struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
}

func toUserView(user storage.User) userView {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return userView{ID: user.ID, Username: user.Username, DisplayName: user.DisplayName, Roles: roles}
}

type userDetails struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

type roleDetails struct {
	Role string `json:"role"`
}

func newUserCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local users",
	}
	cmd.AddCommand(
		newUserAddCommand(deps),
		newUserListCommand(deps),
		newUserGrantCommand(deps),
	)
	return cmd
}

func newUserAddCommand(deps commandDeps) *cobra.Command {
	var (
		username    string
		displayName string
		admin       bool
		roles       []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		Example: "  pmdb user add --username ada --admin\n" +
			"  pmdb user add --username grace --display-name \"Grace H\" --role maintainer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("user add does not accept positional arguments")
			}
			username = strings.TrimSpace(username)
			if username == "" {
				return usageErrorf("--username is required")
			}
			if admin {
				roles = append(roles, storage.RoleAdmin)
			}

			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				user := &storage.User{Username: username, DisplayName: strings.TrimSpace(displayName), Roles: roles}
				err := rt.withStore(ctx, func(store *storage.Store) error {
					return store.Users.Create(ctx, user)
				})
				if err != nil {
					return err
				}
				if err := rt.record(ctx, audit.Event{
					Action:     audit.ActionUserCreate,
					TargetType: "user",
					TargetID:   user.ID,
					Actor:      localOperator,
					Details:    userDetails{Username: user.Username, Roles: toUserView(*user).Roles},
				}); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, toUserView(*user))
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "Created user %s (%s)\n", user.Username, user.ID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Login name")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Additional role (repeatable)")
	return cmd
}

func newUserListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List users",
		Example: "  pmdb user list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("user list does not accept positional arguments")
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				var users []storage.User
				err := rt.withStore(ctx, func(store *storage.Store) error {
					var err error
					users, err = store.Users.List(ctx)
					return err
				})
				if err != nil {
					return err
				}
				views := make([]userView, 0, len(users))
				for _, user := range users {
					views = append(views, toUserView(user))
				}
				if deps.globals.JSON {
					return printJSON(deps.out, views)
				}
				for _, view := range views {
					if _, err := fmt.Fprintf(deps.out, "%s\t%s\t%s\n", view.Username, view.ID, strings.Join(view.Roles, ",")); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newUserGrantCommand(deps commandDeps) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:     "grant <username>",
		Short:   "Grant a role to a user",
		Example: "  pmdb user grant ada --role admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("user grant requires exactly one username")
			}
			role = strings.TrimSpace(role)
			if role == "" {
				return usageErrorf("--role is required")
			}
			return withRuntime(cmd, deps, func(ctx context.Context, rt *runtime) error {
				var user *storage.User
				err := rt.withStore(ctx, func(store *storage.Store) error {
					var err error
					user, err = store.Users.GetByUsername(ctx, args[0])
					if err != nil {
						return err
					}
					return store.Users.AddRole(ctx, user.ID, role)
				})
				if err != nil {
					return err
				}
				if err := rt.record(ctx, audit.Event{
					Action:     audit.ActionUserRoleGrant,
					TargetType: "user",
					TargetID:   user.ID,
					Actor:      localOperator,
					Details:    roleDetails{Role: role},
				}); err != nil {
					return err
				}
				if deps.globals.Quiet || deps.globals.JSON {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "Granted %s to %s\n", role, user.Username)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role to grant")
	return cmd
}
