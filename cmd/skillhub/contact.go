package main

import (
	"context"
	"fmt"
	"strings"

	"skillhub/internal/infrastructure/api"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/utils"
	"skillhub/pkg/validation"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const maxQueryLength = 2000

func contactCmd(a *app) *cobra.Command {
	var query api.ContactQuery

	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Send a question to the skill exchange team",
		Long:  "Send a question to the skill exchange team. Name and email default to the logged in user when omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(""); err != nil {
				return err
			}
			defer a.close()

			token := ""
			if stored, err := a.loadSession(); err == nil {
				token = stored.Token
				query = withSessionDefaults(query, stored.User.Name, stored.User.Email)
			} else {
				a.logger.Debug("sending query without a session", zap.Error(err))
			}

			if err := validateQuery(query); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.API.RequestTimeout)
			defer cancel()

			reply, err := a.apiClient(token).SendQuery(ctx, query)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), utils.FirstNonEmpty(reply, "Message sent successfully."))
			return nil
		},
	}

	cmd.Flags().StringVar(&query.FirstName, "first-name", "", "your first name")
	cmd.Flags().StringVar(&query.LastName, "last-name", "", "your last name")
	cmd.Flags().StringVar(&query.Email, "email", "", "address the team should reply to")
	cmd.Flags().StringVarP(&query.Message, "message", "m", "", "your question")
	cmd.Flags().BoolVar(&query.AgreedToPrivacyPolicy, "agree-privacy", false, "accept the privacy policy")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// withSessionDefaults fills blank name and email fields from the stored user.
// The stored name is split on its first space.
func withSessionDefaults(q api.ContactQuery, name, email string) api.ContactQuery {
	if utils.IsEmpty(q.FirstName) && utils.IsEmpty(q.LastName) {
		first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
		q.FirstName = first
		q.LastName = strings.TrimSpace(last)
	}
	q.Email = utils.FirstNonEmpty(q.Email, email)
	return q
}

func validateQuery(q api.ContactQuery) error {
	if err := validation.ValidateDisplayName(q.FirstName); err != nil {
		return apperrors.NewInvalidInputError("first name: " + err.Error())
	}
	if q.LastName != "" {
		if err := validation.ValidateDisplayName(q.LastName); err != nil {
			return apperrors.NewInvalidInputError("last name: " + err.Error())
		}
	}
	if err := validation.ValidateEmail(q.Email); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateMessageText(q.Message, maxQueryLength); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if !q.AgreedToPrivacyPolicy {
		return apperrors.NewInvalidInputError("the privacy policy must be accepted (--agree-privacy)")
	}
	return nil
}
