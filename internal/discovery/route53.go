package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
)

// Route53Registrar publishes controllers as SRV records under a hosted
// zone, one record per controller name.
type Route53Registrar struct {
	Client       *route53.Client
	HostedZoneID string
	DomainSuffix string
	TTL          int64
}

// NewRoute53Registrar loads the default AWS config and returns a
// registrar bound to the given hosted zone.
func NewRoute53Registrar(ctx context.Context, hostedZoneID, domainSuffix string, ttl int64) (*Route53Registrar, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &Route53Registrar{
		Client:       route53.NewFromConfig(awsCfg),
		HostedZoneID: hostedZoneID,
		DomainSuffix: strings.TrimSuffix(domainSuffix, "."),
		TTL:          ttl,
	}, nil
}

func (r *Route53Registrar) recordName(name string) string {
	return fmt.Sprintf("%s.%s.", name, r.DomainSuffix)
}

func (r *Route53Registrar) srvValue(host string, port int) string {
	host = strings.TrimSuffix(host, ".")
	return fmt.Sprintf("0 0 %d %s.", port, host)
}

func (r *Route53Registrar) change(ctx context.Context, action types.ChangeAction, name, host string, port int) error {
	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.HostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{
				{
					Action: action,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name: aws.String(r.recordName(name)),
						Type: types.RRTypeSrv,
						TTL:  aws.Int64(r.TTL),
						ResourceRecords: []types.ResourceRecord{
							{Value: aws.String(r.srvValue(host, port))},
						},
					},
				},
			},
		},
	}
	_, err := r.Client.ChangeResourceRecordSets(ctx, input)
	return err
}

func (r *Route53Registrar) Register(ctx context.Context, name, host string, port int) error {
	return r.change(ctx, types.ChangeActionUpsert, name, host, port)
}

func (r *Route53Registrar) Deregister(ctx context.Context, name, host string, port int) error {
	return r.change(ctx, types.ChangeActionDelete, name, host, port)
}

// Resolve looks up each name's SRV record in the hosted zone and
// returns the "host:port" endpoints found; names without a record are
// skipped.
func (r *Route53Registrar) Resolve(ctx context.Context, names []string) ([]string, error) {
	var out []string
	for _, name := range names {
		rec := r.recordName(name)
		resp, err := r.Client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
			HostedZoneId:    aws.String(r.HostedZoneID),
			StartRecordName: aws.String(rec),
			StartRecordType: types.RRTypeSrv,
			MaxItems:        aws.Int32(1),
		})
		if err != nil {
			return nil, fmt.Errorf("discovery: resolve %s: %w", name, err)
		}
		for _, rrs := range resp.ResourceRecordSets {
			if aws.ToString(rrs.Name) != rec || rrs.Type != types.RRTypeSrv {
				continue
			}
			for _, rr := range rrs.ResourceRecords {
				ep, ok := parseSRV(aws.ToString(rr.Value))
				if ok {
					out = append(out, ep)
				}
			}
		}
	}
	return out, nil
}

// parseSRV turns an SRV value "prio weight port host." into "host:port".
func parseSRV(v string) (string, bool) {
	fields := strings.Fields(v)
	if len(fields) != 4 {
		return "", false
	}
	host := strings.TrimSuffix(fields[3], ".")
	return fmt.Sprintf("%s:%s", host, fields[2]), true
}

func (r *Route53Registrar) Close() error { return nil }
