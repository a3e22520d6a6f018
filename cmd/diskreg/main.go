package main

import (
	"fmt"
	"log"
	"os"

	"github.com/blkdev/diskreg"
	"github.com/blkdev/diskreg/bdbuf"
	"github.com/blkdev/diskreg/disks"
	"github.com/blkdev/diskreg/drivers/ramdisk"
	"github.com/blkdev/diskreg/naming"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Usage: "Inspect and exercise the block-device registry",
		Commands: []*cli.Command{
			{
				Name:   "profiles",
				Usage:  "List the embedded device profiles",
				Action: listProfiles,
			},
			{
				Name:   "demo",
				Usage:  "Stand up a registry from a profile and walk a device lifecycle",
				Action: runDemo,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "profile",
						Value: "sd0",
						Usage: "slug of the device profile to use",
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func listProfiles(context *cli.Context) error {
	for _, p := range disks.List() {
		fmt.Printf(
			"%-8s %-12s %s  %d blocks x %d B\n",
			p.Slug, p.Name, p.DeviceID(), p.BlockCount, p.BlockSize)
	}
	return nil
}

func runDemo(context *cli.Context) error {
	profile, err := disks.Predefined(context.String("profile"))
	if err != nil {
		return err
	}

	names := naming.New()
	registry := diskreg.New(
		diskreg.WithNamePublisher(names),
		diskreg.WithBufferCache(bdbuf.NewPool()),
	)
	if err := registry.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := registry.Shutdown(); err != nil {
			log.Printf("shutdown reported: %s", err.Error())
		}
	}()

	physID := profile.DeviceID()
	disk := ramdisk.New(profile.BlockSize, profile.BlockCount)
	err = registry.CreatePhysical(
		physID, profile.BlockSize, profile.BlockCount, disk.IOControl, disk, profile.Name)
	if err != nil {
		return err
	}
	fmt.Printf("created physical disk %s (%s)\n", profile.Name, physID)

	partitions, err := profile.PartitionList()
	if err != nil {
		return err
	}
	for i, part := range partitions {
		partID := diskreg.NewDeviceID(physID.Major(), physID.Minor()+uint32(i)+1)
		partName := fmt.Sprintf("%s.%d", profile.Name, i+1)
		err = registry.CreateLogical(partID, physID, part.BeginBlock, part.BlockCount, partName)
		if err != nil {
			return err
		}
		fmt.Printf("created partition %s (%s) blocks [%d, %d)\n",
			partName, partID, part.BeginBlock, part.BeginBlock+part.BlockCount)
	}

	fmt.Println("registered devices:")
	for dd := registry.Next(diskreg.FirstDeviceID); dd != nil; {
		fmt.Printf(
			"  %-8s %-12s %8d blocks  start %-8d uses %d\n",
			dd.ID(), dd.Name(), dd.BlockCount(), dd.StartBlock(), dd.Uses())
		next := registry.Next(dd.ID())
		registry.Release(dd)
		dd = next
	}

	// Hold a partition open while deleting the physical disk so the
	// deferred-deletion path is visible.
	if len(partitions) > 0 {
		partID := diskreg.NewDeviceID(physID.Major(), physID.Minor()+1)
		held := registry.Obtain(partID)
		if held == nil {
			return fmt.Errorf("partition %s disappeared", partID)
		}
		if err := registry.Delete(physID); err != nil {
			return err
		}
		fmt.Printf("deleted %s while %s is held: notifications so far %d\n",
			physID, held.ID(), disk.DeleteNotifications())
		registry.Release(held)
		fmt.Printf("released %s: notifications now %d\n", held.ID(), disk.DeleteNotifications())
	} else {
		if err := registry.Delete(physID); err != nil {
			return err
		}
		fmt.Printf("deleted %s: notifications %d\n", physID, disk.DeleteNotifications())
	}

	return nil
}
