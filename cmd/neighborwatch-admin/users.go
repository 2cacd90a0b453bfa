package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/model"
)

// userAdmin is the subset of service.UserService the commands drive.
type userAdmin interface {
	Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error)
	List(ctx context.Context, opts model.UsersListOptions) ([]*model.User, error)
	SetApproval(ctx context.Context, uid string, approved bool) (*model.User, error)
	SetRole(ctx context.Context, uid string, role domainauth.Role) (*model.User, error)
}

type listUsersOptions struct {
	Role     string
	Approved string
	Limit    int
	Offset   int
}

func parseListUsersFlags(args []string) (model.UsersListOptions, error) {
	fs := flag.NewFlagSet("list-users", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var raw listUsersOptions
	fs.StringVar(&raw.Role, "role", "", "Only list users with this role (resident, police, admin)")
	fs.StringVar(&raw.Approved, "approved", "", "Only list approved (true) or unapproved (false) users")
	fs.IntVar(&raw.Limit, "limit", 50, "Maximum number of users to list")
	fs.IntVar(&raw.Offset, "offset", 0, "Number of users to skip")

	if err := fs.Parse(args); err != nil {
		return model.UsersListOptions{}, err
	}

	opts := model.UsersListOptions{Limit: raw.Limit, Offset: raw.Offset}
	if raw.Role != "" {
		role, ok := domainauth.ParseRole(raw.Role)
		if !ok {
			return model.UsersListOptions{}, fmt.Errorf("unknown role %q", raw.Role)
		}
		opts.Role = &role
	}
	if raw.Approved != "" {
		approved, err := strconv.ParseBool(raw.Approved)
		if err != nil {
			return model.UsersListOptions{}, fmt.Errorf("--approved: %w", err)
		}
		opts.Approved = &approved
	}
	return opts, nil
}

func listUsers(ctx context.Context, users userAdmin, out io.Writer, args []string) error {
	opts, err := parseListUsersFlags(args)
	if err != nil {
		return err
	}
	list, err := users.List(ctx, opts)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return writef(out, "no users found\n")
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if err := writef(tw, "UID\tEMAIL\tROLE\tAPPROVED\tUPDATED\n"); err != nil {
		return err
	}
	for _, u := range list {
		if err := writef(tw, "%s\t%s\t%s\t%t\t%s\n",
			u.UID, u.Email, u.Role, u.Approved, u.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func parseCreateUserFlags(args []string) (model.CreateUserRequest, error) {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		req  model.CreateUserRequest
		role string
	)
	fs.StringVar(&req.UID, "uid", "", "Identity provider subject of the user (required)")
	fs.StringVar(&req.Email, "email", "", "Email address of the user")
	fs.StringVar(&role, "role", string(domainauth.RoleResident), "Role of the user")
	fs.BoolVar(&req.Approved, "approved", false, "Create the account already approved")

	if err := fs.Parse(args); err != nil {
		return model.CreateUserRequest{}, err
	}
	if req.UID == "" {
		return model.CreateUserRequest{}, errors.New("--uid is required")
	}
	req.Role = domainauth.Role(role)
	return req, nil
}

func createUser(ctx context.Context, users userAdmin, out io.Writer, args []string) error {
	req, err := parseCreateUserFlags(args)
	if err != nil {
		return err
	}
	u, err := users.Create(ctx, &req)
	if err != nil {
		return err
	}
	return writef(out, "created %s role=%s approved=%t\n", u.UID, u.Role, u.Approved)
}

func singleUID(args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", errors.New("expected exactly one uid argument")
	}
	return args[0], nil
}

func setApproval(approved bool) func(ctx context.Context, users userAdmin, out io.Writer, args []string) error {
	return func(ctx context.Context, users userAdmin, out io.Writer, args []string) error {
		uid, err := singleUID(args)
		if err != nil {
			return err
		}
		u, err := users.SetApproval(ctx, uid, approved)
		if err != nil {
			return err
		}
		return writef(out, "%s role=%s approved=%t\n", u.UID, u.Role, u.Approved)
	}
}

func setRole(ctx context.Context, users userAdmin, out io.Writer, args []string) error {
	if len(args) != 2 || args[0] == "" {
		return errors.New("usage: set-role <uid> <role>")
	}
	role, ok := domainauth.ParseRole(args[1])
	if !ok {
		return fmt.Errorf("unknown role %q", args[1])
	}
	u, err := users.SetRole(ctx, args[0], role)
	if err != nil {
		return err
	}
	return writef(out, "%s role=%s approved=%t\n", u.UID, u.Role, u.Approved)
}
