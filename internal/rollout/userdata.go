package rollout

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"text/template"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// AMIFlavor selects the user-data document format for the hardened image's
// OS generation.
type AMIFlavor string

const (
	FlavorAL2    AMIFlavor = "amazon-linux-2"
	FlavorAL2023 AMIFlavor = "amazon-linux-2023"
)

// FlavorFromParameter derives the flavour from the AMI parameter path. The
// pipeline publishes its pointer under the EKS-optimized AMI parameter
// namespace, which embeds the OS generation in the path.
func FlavorFromParameter(name string) (AMIFlavor, error) {
	switch {
	case strings.Contains(name, "amazon-linux-2023"):
		return FlavorAL2023, nil
	case strings.Contains(name, "amazon-linux-2"):
		return FlavorAL2, nil
	default:
		return "", fmt.Errorf("cannot derive OS flavour from AMI parameter %q", name)
	}
}

// al2023UserData is the nodeadm NodeConfig document consumed by Amazon Linux
// 2023 images.
const al2023UserData = `---
apiVersion: node.eks.aws/v1alpha1
kind: NodeConfig
spec:
    cluster:
        name: {{.ClusterName}}
        apiServerEndpoint: {{.Endpoint}}
        certificateAuthority: {{.CertificateAuthority}}
        cidr: {{.ServiceCIDR}}
`

// al2UserData is the bootstrap.sh MIME multipart document consumed by Amazon
// Linux 2 images.
const al2UserData = `MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="==MYBOUNDARY=="

--==MYBOUNDARY==
Content-Type: text/x-shellscript; charset="us-ascii"

#!/bin/bash
set -ex
/etc/eks/bootstrap.sh {{.ClusterName}} \
    --b64-cluster-ca {{.CertificateAuthority}} \
    --apiserver-endpoint {{.Endpoint}} \
    --dns-cluster-ip {{.DNSClusterIP}} \
    --container-runtime containerd

--==MYBOUNDARY==--
`

var userDataTemplates = map[AMIFlavor]*template.Template{
	FlavorAL2:    template.Must(template.New("al2").Parse(al2UserData)),
	FlavorAL2023: template.Must(template.New("al2023").Parse(al2023UserData)),
}

// RenderUserData builds the base64-encoded user data for a new launch
// template version joining target's cluster.
func RenderUserData(flavor AMIFlavor, target models.TargetNodeGroup) (string, error) {
	tmpl, ok := userDataTemplates[flavor]
	if !ok {
		return "", fmt.Errorf("no user-data template for flavour %q", flavor)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, target); err != nil {
		return "", fmt.Errorf("render user data for %q: %w", target.Key(), err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
