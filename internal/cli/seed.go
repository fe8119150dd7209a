package cli

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrandal/backscroll/internal/chat"
	"github.com/tbrandal/backscroll/internal/db"
)

var seedAuthors = []string{"ada", "grace", "linus", "barbara", "dennis"}

var seedLines = []string{
	"morning all",
	"did anyone look at the deploy from last night?",
	"yes, rolled back around 02:00",
	"the migration was missing an index",
	"I pushed a fix, review when you have a minute",
	"lgtm, shipping it",
	"standup in 5",
	"can someone rerun the flaky suite?",
	"done, green now",
	"lunch?",
}

// newSeedCmd fills the local store with demo history so the client can be
// tried without a gateway.
func newSeedCmd(flags *rootFlags) *cobra.Command {
	var count int
	var days int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the local store with demo messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			database, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			return seedChannel(cmd, database, flags.channelID, count, days)
		},
	}
	cmd.Flags().IntVar(&count, "count", 200, "Number of messages to generate")
	cmd.Flags().IntVar(&days, "days", 7, "Spread messages over this many days")
	return cmd
}

func seedChannel(cmd *cobra.Command, database *db.DB, channelID string, count, days int) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	if days <= 0 {
		days = 1
	}

	repo := db.NewMessageRepository(database)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	span := time.Duration(days) * 24 * time.Hour
	start := time.Now().UTC().Add(-span)
	step := span / time.Duration(count)

	at := start
	for i := 0; i < count; i++ {
		// Uneven spacing so grouping and date separators show up.
		at = at.Add(step + time.Duration(rng.Int63n(int64(step))))
		msg := chat.Message{
			ID:        chat.GenerateMessageID(at),
			ChannelID: channelID,
			AuthorID:  seedAuthors[rng.Intn(len(seedAuthors))],
			CreatedAt: at,
			Body:      seedLines[rng.Intn(len(seedLines))],
		}
		if err := repo.Insert(cmd.Context(), &msg); err != nil {
			return fmt.Errorf("insert seed message %d: %w", i, err)
		}
	}

	cmd.Printf("seeded %d messages into #%s\n", count, channelID)
	return nil
}
