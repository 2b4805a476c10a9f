// Command admin is the moderation CLI: list abuse reports, mark them
// reviewed, and pull the chat history a report points at.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pairgo/backend/internal/config"
	"pairgo/backend/internal/models"
	"pairgo/backend/internal/storage"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	store := storage.NewService(db)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "list":
		status := models.ReportStatusNew
		if len(os.Args) > 2 {
			status = os.Args[2]
		}
		if status == "all" {
			status = ""
		}
		reports, err := store.ListReports(status)
		if err != nil {
			log.Fatal().Err(err).Msg("list reports")
		}
		if len(reports) == 0 {
			fmt.Println("no reports")
			return
		}
		for _, r := range reports {
			fmt.Printf("#%d\t%s\t%s\treporter=%s reported=%s pairing=%s\n",
				r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Status, r.ReporterID, r.ReportedID, r.PairingID)
			fmt.Printf("\treason: %s\n", r.Reason)
			if r.Details != "" {
				fmt.Printf("\tdetails: %s\n", r.Details)
			}
		}

	case "resolve":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		id, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatal().Str("arg", os.Args[2]).Msg("report id must be a number")
		}
		if err := store.MarkReportReviewed(uint(id)); err != nil {
			log.Fatal().Err(err).Msg("mark reviewed")
		}
		fmt.Printf("report #%d marked reviewed\n", id)

	case "messages":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		history, err := store.ChatHistory(os.Args[2])
		if err != nil {
			log.Fatal().Err(err).Msg("chat history")
		}
		if len(history) == 0 {
			fmt.Println("no messages")
			return
		}
		for _, m := range history {
			fmt.Printf("%d\t%s\t%s: %s\n",
				m.ID, m.CreatedAt.Format("15:04:05"), m.SenderID, m.Payload)
		}

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  admin list [new|reviewed|all]   list abuse reports (default: new)
  admin resolve <report-id>       mark a report reviewed
  admin messages <pairing-id>     print a pairing's chat history`)
}
