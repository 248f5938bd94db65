// Package main university library circulation API.
//
// @title           University Library API
// @version         1.0
// @description     catalogue, reservation queues, loans and notifications.
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description  Use:  Bearer <JWT>
package main

import (
	"context"
	"log/slog"
	"os"

	"unilibrary/app/echoServer"
	authctrl "unilibrary/app/echoServer/controller/auth"
	bookctrl "unilibrary/app/echoServer/controller/book"
	loanctrl "unilibrary/app/echoServer/controller/loan"
	notifctrl "unilibrary/app/echoServer/controller/notification"
	resctrl "unilibrary/app/echoServer/controller/reservation"
	"unilibrary/app/echoServer/validation"
	"unilibrary/config"
	authrepo "unilibrary/repository/auth"
	bookrepo "unilibrary/repository/book"
	loanrepo "unilibrary/repository/loan"
	notifrepo "unilibrary/repository/notification"
	resrepo "unilibrary/repository/reservation"
	"unilibrary/repository/webhook"
	authsvc "unilibrary/service/auth"
	booksvc "unilibrary/service/book"
	"unilibrary/service/circulation"
	loansvc "unilibrary/service/loan"
	"unilibrary/service/notify"
	ressvc "unilibrary/service/reservation"
	"unilibrary/util/database"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
)

func main() {

	cfg := config.Load()
	ctx := context.Background()

	// logger
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// repos
	ar := authrepo.New(db)
	br := bookrepo.New(db)
	rr := resrepo.New(db)
	lr := loanrepo.New(db)
	nr := notifrepo.New(db)
	wh := webhook.NewHTTP(cfg.WebhookURL)

	// circulation core
	dispatcher := notify.New(nr, wh, log)
	adv := circulation.NewAdvancer(rr)
	sweeper := circulation.NewSweeper(db, rr, lr, br, adv, dispatcher, log)

	// services
	as := authsvc.New(ar, cfg.JWTSecret)
	bs := booksvc.New(db, br, adv, dispatcher)
	rs := ressvc.New(db, rr, br, adv, dispatcher)
	ls := loansvc.New(db, lr, rr, br, adv, dispatcher)

	// controllers
	v := validator.New()
	authC := &authctrl.Controller{Svc: as, V: v, Log: log}
	bookC := &bookctrl.Controller{Svc: bs, V: v, Log: log}
	resC := &resctrl.Controller{Svc: rs, V: v, Log: log}
	loanC := &loanctrl.Controller{Svc: ls, V: v, Log: log}
	notifC := &notifctrl.Controller{Repo: nr, Log: log}

	// periodic expiry sweeps
	go sweeper.Run(ctx, cfg.SweepInterval)

	// echo
	e := echo.New()
	echoServer.RegisterMiddlewares(e)
	e.Validator = validation.New()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]any{
			"status":  "ok",
			"message": "Service is healthy and connected",
		})
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	echoServer.Register(e, echoServer.C{
		Auth:         authC,
		Book:         bookC,
		Reservation:  resC,
		Loan:         loanC,
		Notification: notifC,

		JWTSecret: cfg.JWTSecret,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}

	log.Info("starting server", "port", port, "sweep_interval", cfg.SweepInterval.String())

	e.Logger.Fatal(e.Start(":" + port))
}
