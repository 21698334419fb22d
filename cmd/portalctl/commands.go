package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
	"github.com/example/neighborhood-portal/internal/config"
	"github.com/example/neighborhood-portal/internal/portalclient"
	"github.com/example/neighborhood-portal/internal/session"
)

type cli struct {
	client *portalclient.Client
	store  *session.Store
	files  sessionFile
	cfg    config.ClientConfig
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, c *cli, args []string) error
}

var commands = map[string]command{
	"register":   {usage: "<email> <password>", summary: "create an account and send a verification code", run: runRegister},
	"resend":     {usage: "<email>", summary: "send a new verification code", run: runResend},
	"verify":     {usage: "<email> <code>", summary: "confirm the email address and sign in", run: runVerify},
	"login":      {usage: "<email> <password>", summary: "sign in", run: runLogin},
	"logout":     {usage: "[-all]", summary: "end this session, or every session with -all", run: runLogout},
	"me":         {usage: "", summary: "show the account, onboarding step, and roles", run: runMe},
	"ktp":        {usage: "<nik> <full name>", summary: "complete the identity card step", run: runKTP},
	"details":    {usage: "<rt-id> <phone> <address>", summary: "complete the residence step", run: runDetails},
	"evaluate":   {usage: "<path>", summary: "ask the server whether a page may be opened", run: runEvaluate},
	"categories": {usage: "", summary: "list letter categories", run: runCategories},
	"submit":     {usage: "<category-id> <reason>", summary: "request a Surat Pengantar", run: runSubmit},
	"show":       {usage: "<request-id>", summary: "show one request", run: runShow},
	"list":       {usage: "[-queue mine|rt|rw] [-status S] [-page N] [-limit N] [-sort asc|desc]", summary: "list requests", run: runList},
	"decide":     {usage: "<rt|rw> <request-id> <A|R> [notes]", summary: "approve or reject as RT or RW head", run: runDecide},
	"assign":     {usage: "<user-id> <role> [-rt ID] [-rw ID]", summary: "grant a role (administrators)", run: runAssign},
	"watch":      {usage: "", summary: "monitor the session and offer to extend it before expiry", run: runWatch},
}

func printCommands(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "\ncommands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", name, commands[name].summary)
	}
	_ = tw.Flush()
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return errUsage
	}
	return nil
}

func runRegister(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	user, err := c.client.Register(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "registered %s; check your email for the verification code\n", user.Email)
	return nil
}

func runResend(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	if err := c.client.ResendVerification(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "if the account exists and is unverified, a new code was sent")
	return nil
}

func runVerify(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	result, err := c.client.VerifyEmail(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return c.signedIn(result)
}

func runLogin(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	result, err := c.client.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return c.signedIn(result)
}

func (c *cli) signedIn(result application.AuthResult) error {
	step := result.User.Identity(nil).NextStep()
	fmt.Fprintf(c.out, "signed in as %s until %s\n", result.User.Email, result.Tokens.ExpiresAt.Local().Format(time.Kitchen))
	if step != access.StepNone {
		fmt.Fprintf(c.out, "next onboarding step: %s\n", step)
	}
	return nil
}

func runLogout(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	all := fs.Bool("all", false, "revoke every session of the account")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *all {
		if err := c.client.LogoutAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "signed out everywhere")
		return nil
	}
	if err := c.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "signed out")
	return nil
}

func runMe(ctx context.Context, c *cli, _ []string) error {
	user, err := c.client.Me(ctx)
	if err != nil {
		return err
	}
	identity, err := c.client.LoadIdentity(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", user.ID)
	fmt.Fprintf(tw, "email\t%s\n", user.Email)
	if user.FullName != "" {
		fmt.Fprintf(tw, "name\t%s\n", user.FullName)
	}
	if user.RTID > 0 {
		fmt.Fprintf(tw, "residence\tRT %d / RW %d\n", user.RTID, user.RWID)
	}
	fmt.Fprintf(tw, "next step\t%s\n", identity.NextStep())
	for _, role := range identity.Roles {
		fmt.Fprintf(tw, "role\t%s\n", describeRole(role))
	}
	return tw.Flush()
}

func describeRole(role access.RoleAssignment) string {
	switch {
	case role.RTID > 0:
		return fmt.Sprintf("%s (RT %s / RW %s)", role.Role, role.RTNo, role.RWNo)
	case role.RWID > 0:
		return fmt.Sprintf("%s (RW %s)", role.Role, role.RWNo)
	}
	return string(role.Role)
}

func runKTP(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	user, err := c.client.CompleteKTP(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "KTP recorded for %s\n", user.FullName)
	return nil
}

func runDetails(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 3); err != nil {
		return err
	}
	rtID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || rtID <= 0 {
		return errUsage
	}
	user, err := c.client.CompleteDetails(ctx, rtID, strings.Join(args[2:], " "), args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "residence recorded: RT %d / RW %d\n", user.RTID, user.RWID)
	return nil
}

func runEvaluate(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	evaluation, err := c.client.Evaluate(ctx, args[0])
	if err != nil {
		return err
	}
	switch {
	case !evaluation.Decision.Allow:
		fmt.Fprintf(c.out, "redirect to %s\n", evaluation.Decision.RedirectTo)
	case !evaluation.Result.Allowed:
		fmt.Fprintf(c.out, "denied: %s\n", evaluation.Result.Reason)
	default:
		fmt.Fprintln(c.out, "allowed")
	}
	return nil
}

func runCategories(ctx context.Context, c *cli, _ []string) error {
	categories, err := c.client.Categories(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, category := range categories {
		fmt.Fprintf(tw, "%s\t%s\n", category.ID, category.Name)
	}
	return tw.Flush()
}

func runSubmit(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	request, err := c.client.Submit(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "submitted %s (%s)\n", request.ID, request.Status)
	return nil
}

func runShow(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	request, err := c.client.Get(ctx, args[0])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", request.ID)
	fmt.Fprintf(tw, "category\t%s\n", request.CategoryID)
	fmt.Fprintf(tw, "status\t%s\n", request.Status)
	fmt.Fprintf(tw, "reason\t%s\n", request.Reason)
	writeDecision(tw, "RT", request.RTDecision)
	writeDecision(tw, "RW", request.RWDecision)
	fmt.Fprintf(tw, "downloadable\t%t\n", request.Downloadable())
	return tw.Flush()
}

func writeDecision(w io.Writer, tier string, decision *approval.Decision) {
	if decision == nil {
		return
	}
	line := fmt.Sprintf("%s by %s at %s", decision.Action, decision.ApproverID, decision.DecidedAt.Local().Format(time.RFC822))
	if decision.Notes != "" {
		line += ": " + decision.Notes
	}
	fmt.Fprintf(w, "%s decision\t%s\n", tier, line)
}

func runList(ctx context.Context, c *cli, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		queue  = fs.String("queue", "mine", "mine, rt, or rw")
		status = fs.String("status", "", "filter by status")
		page   = fs.Int("page", 1, "page number")
		limit  = fs.Int("limit", application.DefaultPageSize, "page size")
		order  = fs.String("sort", string(application.SortDescending), "asc or desc by creation time")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	query := application.ListQuery{Page: *page, Limit: *limit, SortOrder: application.SortOrder(*order)}
	if *status != "" {
		parsed, err := approval.ParseStatus(strings.ToUpper(*status))
		if err != nil {
			return err
		}
		query.Status = parsed
	}

	var (
		result application.RequestPage
		err    error
	)
	switch *queue {
	case "mine":
		result, err = c.client.MyRequests(ctx, query)
	case "rt":
		result, err = c.client.PendingRT(ctx, query)
	case "rw":
		result, err = c.client.PendingRW(ctx, query)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tSTATUS\tRT\tCREATED")
	for _, item := range result.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", item.ID, item.CategoryID, item.Status, item.RTID, item.CreatedAt.Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "page %d, %d of %d\n", result.Page, len(result.Items), result.Total)
	return nil
}

func runDecide(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 3); err != nil {
		return err
	}
	tier, err := approval.ParseTier(args[0])
	if err != nil {
		return errUsage
	}
	action, err := approval.ParseWireAction(strings.ToUpper(args[2]))
	if err != nil {
		return errUsage
	}
	request, err := c.client.Decide(ctx, args[1], tier, action, strings.Join(args[3:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s is now %s\n", request.ID, request.Status)
	return nil
}

func runAssign(ctx context.Context, c *cli, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	fs := flag.NewFlagSet("assign", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	rtID := fs.Int64("rt", 0, "RT scope for KETUA_RT")
	rwID := fs.Int64("rw", 0, "RW scope for KETUA_RW")
	if err := fs.Parse(args[2:]); err != nil {
		return errUsage
	}

	role, err := c.client.AssignRole(ctx, application.AssignRoleParams{
		UserID: args[0],
		Role:   access.RoleName(strings.ToUpper(args[1])),
		RTID:   *rtID,
		RWID:   *rwID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "granted %s to %s\n", describeRole(role), args[0])
	return nil
}

// runWatch keeps the session alive interactively. Lines on stdin drive the
// monitor: "extend", "dismiss", "status", or "quit".
func runWatch(ctx context.Context, c *cli, _ []string) error {
	if _, ok := c.store.Get(); !ok {
		return application.ErrSessionExpired
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitor := session.NewMonitor(c.store, c.client, session.Config{
		Interval:         c.cfg.MonitorInterval,
		WarningThreshold: c.cfg.WarningThreshold,
		GraceWindow:      c.cfg.GraceWindow,
		Logger:           c.logger,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- monitor.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(c.out, "watching session, %s left\n", monitor.TimeUntilExpiry().Round(time.Second))
	for {
		select {
		case event, ok := <-monitor.Events():
			if !ok {
				return waitMonitor(runErr)
			}
			switch event.Kind {
			case session.EventWarning:
				fmt.Fprintf(c.out, "session expires in %s; type \"extend\" to stay signed in\n", event.Remaining.Round(time.Second))
			case session.EventWarningDismissed:
				fmt.Fprintln(c.out, "warning dismissed")
			case session.EventExtended:
				if err := c.files.save(c.store); err != nil {
					c.logger.Warn("failed to save extended session", "error", err)
				}
				fmt.Fprintf(c.out, "session extended until %s\n", event.ExpiresAt.Local().Format(time.Kitchen))
			case session.EventLoggedOut:
				fmt.Fprintf(c.out, "signed out: %s\n", event.Reason)
				cancel()
				return waitMonitor(runErr)
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch line {
			case "extend":
				if err := monitor.Extend(ctx); err != nil {
					fmt.Fprintf(c.out, "extend failed: %v\n", err)
				}
			case "dismiss":
				monitor.Dismiss()
			case "status":
				monitor.Foreground()
				fmt.Fprintf(c.out, "%s left\n", monitor.TimeUntilExpiry().Round(time.Second))
			case "quit", "exit":
				cancel()
				return waitMonitor(runErr)
			case "":
			default:
				fmt.Fprintln(c.out, `commands: extend, dismiss, status, quit`)
			}
		}
	}
}

func waitMonitor(runErr <-chan error) error {
	err := <-runErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
