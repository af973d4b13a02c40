package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"samkit/internal/app"
	"samkit/internal/config"
	"samkit/internal/db"
	"samkit/internal/domain"
	"samkit/internal/engine"
	"samkit/internal/paths"
	"samkit/internal/repo"
	"samkit/internal/server"
	"samkit/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "sk",
	Short: "Samkit production tracker",
	Long: `Samkit tracks production assets through the studio pipeline.
Core concepts:
- Workspace: your working directory; .samkit holds the registry database and local manifest.
- Project: owns the catalog (tags, stages) and resolves the {project} path placeholder to its root.
- Genus: the fixed production category of a thing: asset, shot, or batch.
- Tag: a classification axis within a genus (CH/PR/SC for assets, episode/scene for batches).
- Stage: a pipeline step (mdl, rig, anm, ...) with source and data path templates.
- Entity: a concrete item of work under a tag: a character, a prop, a shot.
- Task: one entity at one stage. Check it out to work, check it in to publish a version.
- Statuses: initialized -> assigned (checkout) -> submitted (checkin) -> approved/unapproved (review);
  expired and ignored are administrative exits.
- Event log: diary of changes, view with 'sk log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		wsDir := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(wsDir); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SAMKIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", defaultUser(), "user name recorded on checkouts and versions")
	rootCmd.PersistentFlags().String("project", "", "project name (optional in single-project workspaces)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local-user"
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(entityCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Root", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Root, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var name, info, root string
	var fromTemplate bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || root == "" {
				return fmt.Errorf("--name and --root required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, engine.ProjectCreateOptions{
					Name: name, Info: info, Root: root,
					FromTemplate: fromTemplate,
					ActorID:      viper.GetString("user"),
				})
				if err != nil {
					return err
				}
				return printJSONOrPlain(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&info, "info", "", "description")
	cmd.Flags().StringVar(&root, "root", "", "filesystem root the {project} placeholder resolves to")
	cmd.Flags().BoolVar(&fromTemplate, "from-template", true, "seed tags and stages from the template catalog")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(p)
			})
		},
	}
}

// --- tag ---

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Manage tags"}
	tag.AddCommand(tagListCmd())
	tag.AddCommand(tagCreateCmd())
	return tag
}

func tagListCmd() *cobra.Command {
	var genus string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListTags(ctx, p.ID, genus)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Genus", "Name", "Info"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Genus, t.Name, t.Info})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&genus, "genus", "", "genus filter (asset|shot|batch)")
	return cmd
}

func tagCreateCmd() *cobra.Command {
	var genus, name, info string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			if genus == "" || name == "" {
				return fmt.Errorf("--genus and --name required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				t, err := a.Engine.CreateTag(ctx, domain.Tag{
					ProjectID: p.ID, Genus: genus, Name: name, Info: info,
				}, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(t)
			})
		},
	}
	cmd.Flags().StringVar(&genus, "genus", "", "genus (asset|shot|batch)")
	cmd.Flags().StringVar(&name, "name", "", "tag name")
	cmd.Flags().StringVar(&info, "info", "", "description")
	return cmd
}

// --- stage ---

func stageCmd() *cobra.Command {
	stage := &cobra.Command{Use: "stage", Short: "Manage pipeline stages"}
	stage.AddCommand(stageListCmd())
	stage.AddCommand(stageCreateCmd())
	return stage
}

func stageListCmd() *cobra.Command {
	var genus string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				items, err := a.Engine.Repo.ListStages(ctx, p.ID, genus)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Genus", "Name", "Source", "Data"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Genus, s.Name, s.Source, s.Data})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&genus, "genus", "", "genus filter (asset|shot|batch)")
	return cmd
}

func stageCreateCmd() *cobra.Command {
	var genus, name, info, source, data string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if genus == "" || name == "" || source == "" || data == "" {
				return fmt.Errorf("--genus, --name, --source and --data required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.ResolveProject(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				s, err := a.Engine.CreateStage(ctx, domain.Stage{
					ProjectID: p.ID, Genus: genus, Name: name, Info: info,
					Source: source, Data: data,
				}, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(s)
			})
		},
	}
	cmd.Flags().StringVar(&genus, "genus", "", "genus (asset|shot|batch)")
	cmd.Flags().StringVar(&name, "name", "", "stage name")
	cmd.Flags().StringVar(&info, "info", "", "description")
	cmd.Flags().StringVar(&source, "source", "", "source path template")
	cmd.Flags().StringVar(&data, "data", "", "data path template")
	return cmd
}

// --- entity ---

func entityCmd() *cobra.Command {
	ent := &cobra.Command{Use: "entity", Short: "Manage entities"}
	ent.AddCommand(entityListCmd())
	ent.AddCommand(entityCreateCmd())
	ent.AddCommand(entityUpdateCmd())
	return ent
}

func entityListCmd() *cobra.Command {
	var tagName, name string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				filters := repo.EntityFilters{Name: name}
				if tagName != "" {
					tag, err := resolveTag(ctx, a, tagName)
					if err != nil {
						return err
					}
					filters.TagID = tag.ID
				}
				items, err := a.Engine.Repo.ListEntities(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Tag", "Name", "Info"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TagID, e.Name, e.Info})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tagName, "tag", "", "tag name or id")
	cmd.Flags().StringVar(&name, "name", "", "entity name filter")
	return cmd
}

func entityCreateCmd() *cobra.Command {
	var tagName, name, info, thumb string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tagName == "" || name == "" {
				return fmt.Errorf("--tag and --name required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tag, err := resolveTag(ctx, a, tagName)
				if err != nil {
					return err
				}
				e, err := a.Engine.CreateEntity(ctx, domain.Entity{
					TagID: tag.ID, Name: name, Info: info, Thumb: thumb,
				}, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(e)
			})
		},
	}
	cmd.Flags().StringVar(&tagName, "tag", "", "tag name or id")
	cmd.Flags().StringVar(&name, "name", "", "entity name")
	cmd.Flags().StringVar(&info, "info", "", "description")
	cmd.Flags().StringVar(&thumb, "thumb", "", "thumbnail path")
	return cmd
}

func entityUpdateCmd() *cobra.Command {
	var name, info, thumb string
	cmd := &cobra.Command{
		Use:   "update <entity-id>",
		Short: "Update entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e, err := a.Engine.Repo.GetEntity(ctx, args[0])
				if err != nil {
					return err
				}
				if name != "" {
					e.Name = name
				}
				if info != "" {
					e.Info = info
				}
				if thumb != "" {
					e.Thumb = thumb
				}
				e, err = a.Engine.UpdateEntity(ctx, e, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(e)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&info, "info", "", "new description")
	cmd.Flags().StringVar(&thumb, "thumb", "", "new thumbnail path")
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskHistoryCmd())
	task.AddCommand(taskCheckoutCmd())
	task.AddCommand(taskCheckinCmd())
	task.AddCommand(taskSyncCmd())
	task.AddCommand(taskRevertCmd())
	task.AddCommand(taskReviewCmd())
	task.AddCommand(taskStatusChangeCmd("expire", domain.StatusExpired))
	task.AddCommand(taskStatusChangeCmd("ignore", domain.StatusIgnored))
	return task
}

func taskCreateCmd() *cobra.Command {
	var entityID, stageName string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if entityID == "" || stageName == "" {
				return fmt.Errorf("--entity and --stage required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stage, err := resolveStage(ctx, a, stageName)
				if err != nil {
					return err
				}
				t, err := a.Engine.CreateTask(ctx, entityID, stage.ID, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(t)
			})
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&stageName, "stage", "", "stage name or id")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Entity", "Stage", "Status", "Owner", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.EntityID, t.StageID, t.Status, t.Owner, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EntityID, "entity", "", "entity id filter")
	cmd.Flags().StringVar(&f.StageID, "stage", "", "stage id filter")
	cmd.Flags().StringVar(&f.Owner, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with paths and local state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tc, err := a.Engine.Repo.GetTaskContext(ctx, args[0])
				if err != nil {
					return err
				}
				source, data, err := a.Engine.ResolvedPaths(ctx, args[0])
				if err != nil {
					return err
				}
				latest, err := a.Engine.Repo.LatestVersion(ctx, args[0])
				if err != nil {
					return err
				}
				state, err := a.Workspace.LocalState(ctx, tc.Task, latest, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(map[string]any{
					"task":        tc.Task,
					"project":     tc.Project.Name,
					"tag":         tc.Tag.Name,
					"entity":      tc.Entity.Name,
					"stage":       tc.Stage.Name,
					"source_path": source,
					"data_path":   data,
					"latest":      latest,
					"local_state": state,
				})
			})
		},
	}
}

func taskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				versions, err := a.Engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(versions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "When", "User", "Comment"})
				for _, v := range versions {
					tw.AppendRow(table.Row{v.Version, v.TS, v.User, v.Comment})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <task-id>",
		Short: "Check out a task and materialize the working copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Checkout(ctx, args[0], user)
				if err != nil {
					return err
				}
				local, err := materializeLocal(ctx, a, args[0], user)
				if err != nil {
					return err
				}
				return printJSONOrPlain(map[string]any{
					"task":        res.Task,
					"source_path": res.SourcePath,
					"local_path":  local,
				})
			})
		},
	}
}

func taskCheckinCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "checkin <task-id>",
		Short: "Publish the working copy as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				version, err := publishAndCheckin(ctx, a, args[0], user, comment)
				if err != nil {
					return err
				}
				return printJSONOrPlain(map[string]any{
					"task_id": args[0],
					"version": version,
				})
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "version comment")
	return cmd
}

func taskSyncCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "sync <task-id>",
		Short: "Pull a published version into the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Sync(ctx, args[0], user, version)
				if err != nil {
					return err
				}
				local, err := localPathFor(ctx, a, args[0])
				if err != nil {
					return err
				}
				if paths.Exists(res.SourcePath) {
					if err := workspace.Materialize(ctx, res.SourcePath, local); err != nil {
						return err
					}
				}
				if err := a.Workspace.Record(ctx, args[0], res.Version, local, user); err != nil {
					return err
				}
				return printJSONOrPlain(map[string]any{
					"task_id":     args[0],
					"version":     res.Version,
					"latest":      res.Latest,
					"source_path": res.SourcePath,
					"data_path":   res.DataPath,
					"local_path":  local,
				})
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "version to pull (0 = latest)")
	return cmd
}

func taskRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <task-id>",
		Short: "Discard local edits, keeping the checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Revert(ctx, args[0], user); err != nil {
					return err
				}
				local, source, err := taskPaths(ctx, a, args[0])
				if err != nil {
					return err
				}
				if paths.Exists(source) {
					if err := workspace.Materialize(ctx, source, local); err != nil {
						return err
					}
				} else if err := a.Workspace.Discard(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("reverted", args[0])
				return nil
			})
		},
	}
}

func taskReviewCmd() *cobra.Command {
	var approve, reject bool
	cmd := &cobra.Command{
		Use:   "review <task-id>",
		Short: "Approve or reject a submitted task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Review(ctx, args[0], approve, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(t)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the submission")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the submission")
	return cmd
}

func taskStatusChangeCmd(verb, status string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <task-id>",
		Short: "Mark a task " + status,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetTaskStatus(ctx, args[0], status, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrPlain(t)
			})
		},
	}
}

// --- resolve ---

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <task-id>",
		Short: "Resolve a task's repository paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				source, data, err := a.Engine.ResolvedPaths(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrPlain(map[string]any{
					"source_path":   source,
					"source_is_dir": paths.IsDir(source),
					"source_exists": paths.Exists(source),
					"data_path":     data,
					"data_is_dir":   paths.IsDir(data),
					"data_exists":   paths.Exists(data),
				})
			})
		},
	}
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage the template catalog"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrPlain(a.Config)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default samkit.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

// --- log ---

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projectID := ""
				if p, err := a.ResolveProject(ctx, viper.GetString("project")); err == nil {
					projectID = p.ID
				}
				events, err := a.Engine.Repo.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Kind", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- apikey ---

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var forUser, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if forUser == "" {
				forUser = viper.GetString("user")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				raw := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   forUser,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrPlain(map[string]string{
					"id":   key.ID,
					"user": key.ActorID,
					"key":  raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&forUser, "for", "", "user the key authenticates as (defaults to --user)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the registry HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsDir := viper.GetString("workspace")
			meta, err := db.EnsureWorkspace(wsDir)
			if err != nil {
				return err
			}
			logger, closeLog := config.SetupLogger(filepath.Join(meta, "server.log"), slog.LevelInfo)
			defer closeLog()

			a, err := app.Open(cmd.Context(), wsDir)
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{
				JWTSecret:       os.Getenv("SAMKIT_JWT_SECRET"),
				AllowUserHeader: allowUserHeader,
				Logger:          logger,
			}
			if authCfg.JWTSecret == "" && !allowUserHeader {
				return fmt.Errorf("SAMKIT_JWT_SECRET is required unless --allow-user-header is set")
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving samkit API", "addr", addr, "base_path", basePath, "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "accept the unauthenticated X-User header (trusted networks only)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// resolveTag accepts a tag name (within the active project) or a raw id.
func resolveTag(ctx context.Context, a *app.App, nameOrID string) (domain.Tag, error) {
	if t, err := a.Engine.Repo.GetTag(ctx, nameOrID); err == nil {
		return t, nil
	}
	p, err := a.ResolveProject(ctx, viper.GetString("project"))
	if err != nil {
		return domain.Tag{}, err
	}
	for _, genus := range domain.Genuses() {
		if t, err := a.Engine.Repo.GetTagByName(ctx, p.ID, genus, nameOrID); err == nil {
			return t, nil
		}
	}
	return domain.Tag{}, fmt.Errorf("tag %q not found", nameOrID)
}

// resolveStage accepts a stage name (within the active project) or a raw id.
func resolveStage(ctx context.Context, a *app.App, nameOrID string) (domain.Stage, error) {
	if s, err := a.Engine.Repo.GetStage(ctx, nameOrID); err == nil {
		return s, nil
	}
	p, err := a.ResolveProject(ctx, viper.GetString("project"))
	if err != nil {
		return domain.Stage{}, err
	}
	for _, genus := range domain.Genuses() {
		if s, err := a.Engine.Repo.GetStageByName(ctx, p.ID, genus, nameOrID); err == nil {
			return s, nil
		}
	}
	return domain.Stage{}, fmt.Errorf("stage %q not found", nameOrID)
}

// taskPaths resolves a task's local working path and repository source path.
func taskPaths(ctx context.Context, a *app.App, taskID string) (local, source string, err error) {
	tc, err := a.Engine.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return "", "", err
	}
	pctx := paths.For(tc.Project, tc.Tag, tc.Entity, tc.Stage)
	source, err = paths.Resolve(tc.Stage.Source, pctx)
	if err != nil {
		return "", "", err
	}
	local, err = a.Workspace.LocalPath(tc.Stage.Source, pctx)
	if err != nil {
		return "", "", err
	}
	return local, source, nil
}

func localPathFor(ctx context.Context, a *app.App, taskID string) (string, error) {
	local, _, err := taskPaths(ctx, a, taskID)
	return local, err
}

// publishAndCheckin pushes the working copy into the repository and
// records the new version. Ownership is checked before any file leaves
// the workspace; a failed checkin must not touch the shared source.
func publishAndCheckin(ctx context.Context, a *app.App, taskID, user, comment string) (int, error) {
	tc, err := a.Engine.Repo.GetTaskContext(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if tc.Task.Owner != user || tc.Task.Status != domain.StatusAssigned {
		return 0, domain.NotOwner(user)
	}
	pctx := paths.For(tc.Project, tc.Tag, tc.Entity, tc.Stage)
	source, err := paths.Resolve(tc.Stage.Source, pctx)
	if err != nil {
		return 0, err
	}
	local, err := a.Workspace.LocalPath(tc.Stage.Source, pctx)
	if err != nil {
		return 0, err
	}
	if paths.Exists(local) {
		if err := workspace.Materialize(ctx, local, source); err != nil {
			return 0, fmt.Errorf("publish working copy: %w", err)
		}
	}
	version, err := a.Engine.Checkin(ctx, taskID, user, comment)
	if err != nil {
		return 0, err
	}
	if err := a.Workspace.Record(ctx, taskID, version, local, user); err != nil {
		return 0, err
	}
	return version, nil
}

// materializeLocal pulls the repository copy (when present) into the
// workspace and records it in the manifest.
func materializeLocal(ctx context.Context, a *app.App, taskID, user string) (string, error) {
	local, source, err := taskPaths(ctx, a, taskID)
	if err != nil {
		return "", err
	}
	if paths.Exists(source) {
		if err := workspace.Materialize(ctx, source, local); err != nil {
			return "", err
		}
	}
	latest, err := a.Engine.Repo.LatestVersion(ctx, taskID)
	if err != nil {
		return "", err
	}
	if err := a.Workspace.Record(ctx, taskID, latest, local, user); err != nil {
		return "", err
	}
	return local, nil
}

func printJSONOrPlain(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
