package admintools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/mirror"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/publication"
	"git.handmade.network/hmn/tutorials/src/resolver"
	"git.handmade.network/hmn/tutorials/src/server"
	"github.com/spf13/cobra"
)

// Commands run from the shell act as staff.
var adminUser = &models.User{Username: "admin", IsStaff: true}

func init() {
	adminCommand := &cobra.Command{
		Use:   "admin",
		Short: "Miscellaneous admin commands",
	}
	server.TutorialsCommand.AddCommand(adminCommand)

	publishCommand := &cobra.Command{
		Use:   "publish <content id> [commit]",
		Short: "Publish a content without going through validation",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a content id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}
			contentID := mustParseID(args[0])
			major, _ := cmd.Flags().GetBool("major")
			source, _ := cmd.Flags().GetString("source")

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			opts := publication.PublishOptions{MajorUpdate: major, Source: source}
			if len(args) > 1 {
				opts.Commit = args[1]
			} else {
				c, err := services.Contents.Get(ctx, adminUser, contentID)
				if err != nil {
					panic(err)
				}
				opts.Commit = c.ShaDraft
			}

			res, err := services.Publications.Publish(ctx, contentID, opts)
			if err != nil {
				panic(err)
			}
			fmt.Printf("Published content %d as '%s' (commit %s)\n", contentID, res.Published.PublicSlug, res.Published.ShaPublic)
			for _, failed := range res.Failed {
				fmt.Printf("  %s will be retried: %v\n", failed.Kind, failed.Err)
			}
		},
	}
	publishCommand.Flags().Bool("major", false, "Record the publication as a major update")
	publishCommand.Flags().String("source", "", "Where the content was originally published")
	adminCommand.AddCommand(publishCommand)

	revokeCommand := &cobra.Command{
		Use:   "revoke <content id> <reason>...",
		Short: "Take a content offline and send it back to its authors",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a content id and a reason.\n\n")
				cmd.Usage()
				os.Exit(1)
			}
			contentID := mustParseID(args[0])
			reason := strings.Join(args[1:], " ")

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			if err := services.Publications.Revoke(ctx, adminUser, contentID, reason); err != nil {
				panic(err)
			}
			fmt.Printf("Revoked content %d\n", contentID)
		},
	}
	adminCommand.AddCommand(revokeCommand)

	resolveCommand := &cobra.Command{
		Use:   "resolve <content id> <slug> [path]...",
		Short: "Show what a reader would get for a URL",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a content id and a slug.\n\n")
				cmd.Usage()
				os.Exit(1)
			}
			commit, _ := cmd.Flags().GetString("commit")
			asVisitor, _ := cmd.Flags().GetBool("visitor")

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			user := adminUser
			if asVisitor {
				user = nil
			}
			resolved, err := services.Resolver.Resolve(ctx, user, resolver.Query{
				ContentID: mustParseID(args[0]),
				Slug:      args[1],
				Commit:    commit,
				Path:      args[2:],
			})
			var redirect *resolver.RedirectError
			if errors.As(err, &redirect) {
				fmt.Printf("Redirect to '%s'\n", redirect.Slug)
				return
			} else if err != nil {
				panic(err)
			}

			source := "draft"
			if resolved.FromPublic() {
				source = fmt.Sprintf("public directory '%s'", resolved.Published.PublicSlug)
			}
			fmt.Printf("%s\n", resolved.Node.NodeTitle())
			fmt.Printf("  content: %d (%s)\n", resolved.Content.ID, resolved.Content.Title)
			fmt.Printf("  commit:  %s\n", resolved.Commit)
			fmt.Printf("  from:    %s\n", source)
		},
	}
	resolveCommand.Flags().String("commit", "", "Read a specific version")
	resolveCommand.Flags().Bool("visitor", false, "Resolve as an anonymous reader instead of staff")
	adminCommand.AddCommand(resolveCommand)

	cleanStagingCommand := &cobra.Command{
		Use:   "cleanstaging",
		Short: "Remove staging directories left behind by interrupted publications, once older than the grace period",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			removed, err := services.Publications.CleanStaleStaging(ctx)
			if err != nil {
				panic(err)
			}
			for _, dir := range removed {
				fmt.Printf("Removed %s\n", dir)
			}
			fmt.Printf("Removed %d staging directories\n", len(removed))
		},
	}
	adminCommand.AddCommand(cleanStagingCommand)

	retryArtifactsCommand := &cobra.Command{
		Use:   "retryartifacts",
		Short: "Regenerate every downloadable file whose retry is due",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			n, err := services.Publications.RetryFailedArtifacts(ctx)
			if err != nil {
				panic(err)
			}
			fmt.Printf("Regenerated %d files\n", n)
		},
	}
	adminCommand.AddCommand(retryArtifactsCommand)

	localMirrorCommand := &cobra.Command{
		Use:   "localmirror [storage folder]",
		Short: "Serve a minimal S3-compatible bucket store for local development",
		Run: func(cmd *cobra.Command, args []string) {
			defer logging.LogPanics(nil)

			root := "./tmp/mirror"
			if len(args) > 0 {
				root = args[0]
			}
			addr, _ := cmd.Flags().GetString("addr")
			if err := os.MkdirAll(root, 0755); err != nil {
				panic(err)
			}

			logging.Info().Str("addr", addr).Str("root", root).Msg("Serving local mirror")
			if err := http.ListenAndServe(addr, mirror.LocalServer(root)); err != nil {
				panic(err)
			}
		},
	}
	localMirrorCommand.Flags().String("addr", "localhost:9004", "Address to listen on")
	adminCommand.AddCommand(localMirrorCommand)

	addContentCommands(adminCommand)
}

func mustServices(ctx context.Context) *server.Services {
	services, err := server.NewServices(ctx, config.Config, server.InMemory())
	if err != nil {
		panic(err)
	}
	return services
}

func mustParseID(arg string) int {
	id, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Printf("ERROR: '%s' is not a valid id\n", arg)
		os.Exit(1)
	}
	return id
}
