package admintools

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func addContentCommands(adminCommand *cobra.Command) {
	contentCommand := &cobra.Command{
		Use:   "content",
		Short: "Admin commands for inspecting and managing content",
	}
	adminCommand.AddCommand(contentCommand)

	addListContentCommand(contentCommand)
	addHistoryCommands(contentCommand)
	addAuthorCommands(contentCommand)
}

func addListContentCommand(contentCommand *cobra.Command) {
	listCommand := &cobra.Command{
		Use:   "list",
		Short: "List all content with its version pointers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			contents, err := services.Store.ListContents(ctx)
			if err != nil {
				panic(err)
			}
			for _, c := range contents {
				fmt.Printf("%d\t%s\t%s (%s)\n", c.ID, c.Type, c.Title, c.Slug)
				fmt.Printf("\tdraft:      %s\n", c.ShaDraft)
				printPointer("beta", c.ShaBeta)
				printPointer("validation", c.ShaValidation)
				printPointer("public", c.ShaPublic)
			}
		},
	}
	contentCommand.AddCommand(listCommand)
}

func printPointer(name string, sha *string) {
	if sha != nil {
		fmt.Printf("\t%-11s %s\n", name+":", *sha)
	}
}

func addHistoryCommands(contentCommand *cobra.Command) {
	historyCommand := &cobra.Command{
		Use:   "history <content id>",
		Short: "List the commits of a content, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a content id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			commits, err := services.Contents.History(ctx, adminUser, mustParseID(args[0]))
			if err != nil {
				panic(err)
			}
			for _, commit := range commits {
				fmt.Printf("%s %s <%s> %s\n", commit.ID, commit.Author.Name, commit.Author.Email, commit.Author.When.Format("2006-01-02 15:04"))
				fmt.Printf("    %s\n", commit.Message)
			}
		},
	}
	contentCommand.AddCommand(historyCommand)

	diffCommand := &cobra.Command{
		Use:   "diff <content id> <from commit> <to commit>",
		Short: "List the files changed between two versions",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 3 {
				fmt.Printf("You must provide a content id and two commits.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			changes, err := services.Contents.Diff(ctx, adminUser, mustParseID(args[0]), args[1], args[2])
			if err != nil {
				panic(err)
			}
			for _, change := range changes {
				fmt.Printf("%-7s %s\n", change.Action, change.Path)
			}
		},
	}
	contentCommand.AddCommand(diffCommand)

	validationsCommand := &cobra.Command{
		Use:   "validations <content id>",
		Short: "List the validation requests of a content",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a content id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			validations, err := services.Validation.History(ctx, mustParseID(args[0]))
			if err != nil {
				panic(err)
			}
			for _, v := range validations {
				fmt.Printf("%d\t%s\t%s\n", v.ID, v.Status, v.Version)
			}
		},
	}
	contentCommand.AddCommand(validationsCommand)
}

func addAuthorCommands(contentCommand *cobra.Command) {
	addAuthorCommand := &cobra.Command{
		Use:   "addauthor <content id> <user id>",
		Short: "Add an author to a content",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a content id and a user id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			contentID, userID := mustParseID(args[0]), mustParseID(args[1])
			if err := services.Contents.AddAuthor(ctx, adminUser, contentID, userID); err != nil {
				panic(err)
			}
			fmt.Printf("User %d is now an author of content %d\n", userID, contentID)
		},
	}
	contentCommand.AddCommand(addAuthorCommand)

	removeAuthorCommand := &cobra.Command{
		Use:   "removeauthor <content id> <user id>",
		Short: "Remove an author from a content, deleting it if none remain",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a content id and a user id.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			services := mustServices(ctx)
			defer services.Close()

			contentID, userID := mustParseID(args[0]), mustParseID(args[1])
			if err := services.Contents.RemoveAuthor(ctx, adminUser, contentID, userID); err != nil {
				panic(err)
			}
			fmt.Printf("User %d is no longer an author of content %d\n", userID, contentID)
		},
	}
	contentCommand.AddCommand(removeAuthorCommand)
}
