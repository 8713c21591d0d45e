package slack

import (
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/gpilot-io/gpilot/pkg/models"
)

var conditionSymbol = map[models.AlertCondition]string{
	models.ConditionGT:  ">",
	models.ConditionGTE: ">=",
	models.ConditionLT:  "<",
	models.ConditionLTE: "<=",
	models.ConditionEQ:  "=",
}

func alertsURL(dashboardURL string) string {
	return fmt.Sprintf("%s/alerts", dashboardURL)
}

// BuildFiringMessage creates the fallback text and Block Kit blocks for an
// alert firing notice. The fallback embeds the firing fingerprint so the
// resolution notice can find this message and thread onto it.
func BuildFiringMessage(rule *models.AlertRule, firing *models.AlertFiring, dashboardURL string) (string, []goslack.Block) {
	fallback := fmt.Sprintf("%s %s", Fingerprint(firing.ID), firing.Message)

	symbol := conditionSymbol[rule.Condition]
	if symbol == "" {
		symbol = string(rule.Condition)
	}

	headerText := fmt.Sprintf(":rotating_light: *Alert firing: %s*", rule.Name)
	detailText := fmt.Sprintf("`%s %s %g` over the last %dm — current value *%g*",
		firing.Metric, symbol, rule.Threshold, rule.WindowMinutes, firing.MetricValue)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, detailText, false, false),
			nil, nil,
		),
	}

	if dashboardURL != "" {
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Alerts", false, false))
		btn.URL = alertsURL(dashboardURL)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return fallback, blocks
}

// BuildResolvedMessage creates the fallback text and Block Kit blocks for an
// alert resolution notice. The fallback carries no fingerprint; history
// search must only ever match the firing message.
func BuildResolvedMessage(rule *models.AlertRule, firing *models.AlertFiring) (string, []goslack.Block) {
	fallback := fmt.Sprintf("Alert resolved: %s", rule.Name)

	headerText := fmt.Sprintf(":white_check_mark: *Alert resolved: %s*", rule.Name)
	detailText := fmt.Sprintf("`%s` back within threshold", firing.Metric)
	if firing.ResolvedAt != nil {
		duration := firing.ResolvedAt.Sub(firing.TriggeredAt).Round(time.Second)
		detailText += fmt.Sprintf(" after %s", duration)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, detailText, false, false),
			nil, nil,
		),
	}

	return fallback, blocks
}
