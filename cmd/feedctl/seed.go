package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/feed-system/feed-system/internal/auth"
	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/internal/repository"
)

var (
	seedUsers       int
	seedCelebrities int
	seedAvgFollows  int
	seedPostsEach   int
)

func init() {
	seedCmd.Flags().IntVar(&seedUsers, "users", 200, "number of regular users to create")
	seedCmd.Flags().IntVar(&seedCelebrities, "celebrities", 2, "number of celebrity users to create")
	seedCmd.Flags().IntVar(&seedAvgFollows, "avg-follows", 15, "average number of accounts each regular user follows")
	seedCmd.Flags().IntVar(&seedPostsEach, "posts-each", 3, "posts to create per user")
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the configured database with a sample social graph",
	Long: `Creates regular and celebrity users, a random follow graph, and a
handful of posts per user, so the timeline read path has something to
exercise against. Celebrity accounts are seeded with enough followers to
cross CELEBRITY_THRESHOLD immediately.`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := repository.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	users := repository.NewUserRepository(db.DB)
	follows := repository.NewFollowRepository(db.DB, cfg.Feed.CelebrityThreshold)
	posts := repository.NewPostRepository(db.DB)
	tokens := auth.NewTokenIssuer(cfg.Token.Secret, cfg.Token.TTL)
	credentials := auth.NewCredentialService(users, tokens)

	fmt.Printf("seeding %d regular users and %d celebrities\n", seedUsers, seedCelebrities)

	var regularIDs, celebrityIDs []int64
	for i := 0; i < seedUsers; i++ {
		u, err := credentials.Register(ctx, fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.test", i), "seed-password")
		if err != nil {
			return fmt.Errorf("create user %d: %w", i, err)
		}
		regularIDs = append(regularIDs, u.ID)
	}
	for i := 0; i < seedCelebrities; i++ {
		u, err := credentials.Register(ctx, fmt.Sprintf("celeb%d", i), fmt.Sprintf("celeb%d@example.test", i), "seed-password")
		if err != nil {
			return fmt.Errorf("create celebrity %d: %w", i, err)
		}
		celebrityIDs = append(celebrityIDs, u.ID)
	}

	// Every regular user follows a random sample of other regulars plus
	// every celebrity, so the celebrity pull path always has something to
	// merge in get_timeline.
	for _, followerID := range regularIDs {
		for _, celebID := range celebrityIDs {
			if err := follows.AddFollow(ctx, followerID, celebID); err != nil {
				return fmt.Errorf("follow celebrity: %w", err)
			}
		}
		n := rand.Intn(seedAvgFollows*2 + 1)
		for j := 0; j < n; j++ {
			targetID := regularIDs[rand.Intn(len(regularIDs))]
			if targetID == followerID {
				continue
			}
			if err := follows.AddFollow(ctx, followerID, targetID); err != nil {
				continue // duplicate follow, ignore
			}
		}
	}

	// Push enough extra followers onto the celebrity accounts that they
	// cross CELEBRITY_THRESHOLD even when --users is small.
	for _, celebID := range celebrityIDs {
		for i := int64(0); i < cfg.Feed.CelebrityThreshold; i++ {
			filler, err := credentials.Register(ctx, fmt.Sprintf("filler%d_%d", celebID, i), fmt.Sprintf("filler%d_%d@example.test", celebID, i), "seed-password")
			if err != nil {
				return fmt.Errorf("create filler follower: %w", err)
			}
			if err := follows.AddFollow(ctx, filler.ID, celebID); err != nil {
				return fmt.Errorf("fill celebrity followers: %w", err)
			}
		}
	}

	allUserIDs := append(append([]int64{}, regularIDs...), celebrityIDs...)
	for _, authorID := range allUserIDs {
		for i := 0; i < seedPostsEach; i++ {
			if _, err := posts.Create(ctx, authorID, fmt.Sprintf("seed post %d from user %d", i, authorID)); err != nil {
				return fmt.Errorf("create post: %w", err)
			}
		}
	}

	fmt.Println("seed complete")
	return nil
}
