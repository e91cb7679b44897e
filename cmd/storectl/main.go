// Command storectl prints the users and messages held by a tickchat store.
// Stop the server first: badger holds an exclusive lock on its directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Tyrowin/tickchat/internal/chat"
	"github.com/Tyrowin/tickchat/internal/store"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

func main() {
	_ = godotenv.Load()

	driver := flag.String("driver", envOr("STORE_DRIVER", store.DriverBadger), "store driver: badger or sqlite")
	path := flag.String("path", "", "store path (defaults to BADGER_PATH or SQLITE_PATH)")
	user := flag.String("user", "", "list this user's messages instead of all users")
	peer := flag.String("with", "", "with -user, only the conversation with this user")
	limit := flag.Int("limit", 50, "maximum number of messages to print, 0 for all")
	flag.Parse()

	if *path == "" {
		*path = defaultPath(*driver)
	}

	st, err := store.Open(*driver, *path)
	if err != nil {
		log.Fatal("Error while opening store: ", err)
	}
	defer st.Close()

	ctx := context.Background()
	if *user == "" {
		err = printUsers(ctx, st)
	} else {
		err = printMessages(ctx, st, *user, *peer, *limit)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func printUsers(ctx context.Context, st store.Store) error {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	table := newTable([]string{"Username", "Status", "Last seen"})
	for _, u := range users {
		lastSeen := "-"
		if u.LastSeen != nil {
			lastSeen = u.LastSeen.Local().Format(time.DateTime)
		}
		table.Append([]string{u.Username, string(u.Status), lastSeen})
	}
	table.Render()
	fmt.Printf("%d users\n", len(users))
	return nil
}

func printMessages(ctx context.Context, st store.Store, user, peer string, limit int) error {
	var (
		msgs []chat.Message
		err  error
	)
	if peer != "" {
		msgs, err = st.Conversation(ctx, user, peer, limit)
	} else {
		msgs, err = st.MessagesFor(ctx, user, limit)
	}
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	table := newTable([]string{"ID", "Time", "Sender", "Target", "Type", "Status", "Message"})
	for _, m := range msgs {
		table.Append([]string{
			m.ID.String(),
			m.Timestamp.Local().Format(time.DateTime),
			m.Sender,
			m.Target,
			string(m.Kind),
			string(m.Status),
			preview(m),
		})
	}
	table.Render()
	fmt.Printf("%d messages\n", len(msgs))
	return nil
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// preview shortens bodies so inline images do not flood the terminal.
func preview(m chat.Message) string {
	const maxRunes = 60
	body := []rune(m.Body)
	if len(body) <= maxRunes {
		return m.Body
	}
	return string(body[:maxRunes]) + "…"
}

func defaultPath(driver string) string {
	if driver == store.DriverSQLite {
		return envOr("SQLITE_PATH", "data/tickchat.db")
	}
	return envOr("BADGER_PATH", "data/badger")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
