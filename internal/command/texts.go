package command

import (
	"fmt"
	"sort"
	"strings"
)

// User-facing message templates. The original bot spoke Russian; these are
// English renderings of the same messages.

const helpHeader = `To request VPN access, send "request {list}".
Where {list} is a space separated list of services you need access to:
`

const helpApproverAddendum = `

Approver commands:
  list - active users and their access.
  approve {id} - approve a request.
  decline {id} [reason] - decline a request.
  revoke {id} {list} - revoke access to the listed services.
  revoke {id} #all - revoke access to all services.
  mykey - get your own key download link.`

const unknownCommandText = `Sorry, I don't understand. Send "help" for instructions.`

const approveReplyTemplate = `Your request #%d has been approved.
Download your access key here: %s
Windows client: https://openvpn.net/index.php/open-source/downloads.html
OS X client: https://tunnelblick.net
Linux client: look for openvpn in your distribution's repository.

All of the listed clients take the .ovpn file as their config; the other files in the archive are included just in case.`

func helpText(services map[string]string, approver bool) string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(helpHeader)
	for _, name := range names {
		fmt.Fprintf(&b, "    %s - %s\n", name, services[name])
	}
	text := strings.TrimRight(b.String(), "\n")
	if approver {
		text += helpApproverAddendum
	}
	return text
}

func requestBroadcastText(requester string, requestID int64, targets []string) string {
	return fmt.Sprintf(`%s requested access to %s.
Request id: %d.
approve %d - to approve,
decline %d [reason] - to decline.`,
		requester, strings.Join(targets, " "), requestID, requestID, requestID)
}

func approveReplyText(requestID int64, credentialURL string) string {
	return fmt.Sprintf(approveReplyTemplate, requestID, credentialURL)
}

func declineReplyText(requestID int64, targets []string, reason string) string {
	text := fmt.Sprintf("Your request #%d for access to (%s) was declined.",
		requestID, strings.Join(targets, ", "))
	if reason != "" {
		text += " Reason: " + reason
	}
	return text
}

func revokeText(approver, requester string, removed []string) string {
	return fmt.Sprintf("%s revoked %s's access to %s", approver, requester, strings.Join(removed, " "))
}

func provisioningFailedText(requester string, requestID int64, err error) string {
	return fmt.Sprintf("Provisioning for request #%d (%s) failed: %v. The grant stays recorded; re-run provisioning manually.",
		requestID, requester, err)
}
