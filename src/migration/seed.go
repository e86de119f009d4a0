package migration

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"strings"

	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/content"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/server"
	"git.handmade.network/hmn/tutorials/src/validation"
	lorem "github.com/HandmadeNetwork/golorem"
	"github.com/spf13/cobra"
)

func init() {
	seedCommand := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with sample users and content for local dev",
		Run: func(cmd *cobra.Command, args []string) {
			seedFile, _ := cmd.Flags().GetString("file")
			if seedFile != "" {
				SeedFromFile(seedFile)
				return
			}
			if server.InMemory() {
				fmt.Printf("ERROR: an in-memory store would be gone as soon as the seed finished\n")
				os.Exit(1)
			}
			SampleSeed()
		},
	}
	seedCommand.Flags().String("file", "", "Restore a pg_dump file instead of generating sample data")
	server.TutorialsCommand.AddCommand(seedCommand)
}

// Applies a database dump to the local db.
// NOTE: The db role specified in the config must have the CREATEDB attribute! `ALTER ROLE tutorials WITH CREATEDB;`
func SeedFromFile(seedFile string) {
	file, err := os.Open(seedFile)
	if err != nil {
		panic(fmt.Errorf("couldn't open seed file %s: %w", seedFile, err))
	}
	file.Close()

	fmt.Println("Executing seed...")
	cmd := exec.Command("pg_restore",
		"--single-transaction",
		"--dbname", config.Config.Postgres.DSN(),
		seedFile,
	)
	fmt.Println("Running command:", cmd)
	if output, err := cmd.CombinedOutput(); err != nil {
		fmt.Print(string(output))
		panic(fmt.Errorf("failed to execute seed: %w", err))
	}

	fmt.Println("Done! You may want to migrate forward from here.")
	ListMigrations()
}

// Seeds the database with sample data for local dev: a few users, one
// published tutorial, one article waiting for review, and one draft.
func SampleSeed() {
	Migrate(LatestVersion())

	ctx := context.Background()
	services, err := server.NewServices(ctx, config.Config, false)
	if err != nil {
		panic(err)
	}
	defer services.Close()

	fmt.Println("Creating users...")
	seedUser(ctx, services, models.User{Username: "admin", Name: "Admin", IsStaff: true})
	validator := seedUser(ctx, services, models.User{Username: "val", Name: "Valerie", IsValidator: true})
	alice := seedUser(ctx, services, models.User{Username: "alice", Name: "Alice"})
	bob := seedUser(ctx, services, models.User{Username: "bob", Name: "Bob"})

	fmt.Println("Writing a tutorial and publishing it...")
	tutorial := seedContent(ctx, services, alice, models.ContentTypeTutorial, 3)
	if err := services.Contents.AddAuthor(ctx, alice, tutorial.ID, bob.ID); err != nil {
		panic(err)
	}
	v, err := services.Validation.Ask(ctx, alice, tutorial.ID, lorem.Sentence(4, 10))
	if err != nil {
		panic(err)
	}
	if _, err := services.Validation.Reserve(ctx, validator, v.ID); err != nil {
		panic(err)
	}
	_, res, err := services.Validation.Accept(ctx, validator, v.ID, validation.AcceptOptions{Comment: lorem.Sentence(4, 10)})
	if err != nil {
		panic(err)
	}
	fmt.Printf("  published as '%s'\n", res.Published.PublicSlug)

	fmt.Println("Writing an article and asking for validation...")
	article := seedContent(ctx, services, bob, models.ContentTypeArticle, 0)
	if _, err := services.Validation.Ask(ctx, bob, article.ID, lorem.Sentence(4, 10)); err != nil {
		panic(err)
	}

	fmt.Println("Writing a draft...")
	draft := seedContent(ctx, services, alice, models.ContentTypeTutorial, 1)
	if err := services.Contents.SetBeta(ctx, alice, draft.ID, draft.ShaDraft); err != nil {
		panic(err)
	}

	fmt.Println("Done!")
}

func seedUser(ctx context.Context, services *server.Services, input models.User) *models.User {
	user, err := services.Store.CreateUser(ctx, input)
	if err != nil {
		panic(err)
	}
	return user
}

// Creates a content with lorem ipsum text. Tutorials get the given number of
// parts with a few sections each; articles are a handful of sections.
func seedContent(ctx context.Context, services *server.Services, author *models.User, contentType models.ContentType, parts int) *models.Content {
	c, err := services.Contents.Create(ctx, author, content.CreateInput{
		Type:         contentType,
		Title:        loremTitle(),
		Description:  lorem.Sentence(6, 14),
		Introduction: lorem.Paragraph(2, 4),
		Conclusion:   lorem.Paragraph(1, 3),
		Licence:      "CC BY",
	})
	if err != nil {
		panic(err)
	}

	addSections := func(parent []string) {
		sections := 2 + rand.Intn(3)
		for i := 0; i < sections; i++ {
			_, err := services.Contents.AddExtract(ctx, author, c.ID, parent, loremTitle(), loremText())
			if err != nil {
				panic(err)
			}
		}
	}

	if parts == 0 {
		addSections(nil)
	}
	for i := 0; i < parts; i++ {
		edit, err := services.Contents.AddContainer(ctx, author, c.ID, nil, loremTitle(), lorem.Paragraph(1, 2), "")
		if err != nil {
			panic(err)
		}
		addSections(edit.Path)
	}

	c, err = services.Contents.Get(ctx, author, c.ID)
	if err != nil {
		panic(err)
	}
	return c
}

func loremTitle() string {
	return strings.TrimSuffix(lorem.Sentence(2, 5), ".")
}

func loremText() string {
	var paragraphs []string
	for i := 0; i < 3; i++ {
		paragraphs = append(paragraphs, lorem.Paragraph(1, 4))
	}
	return strings.Join(paragraphs, "\n\n")
}
